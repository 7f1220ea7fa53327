package discussion

// WindowRange is an inclusive pair of offsets into a linearized conversation.
// End < Start means empty.
type WindowRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}
