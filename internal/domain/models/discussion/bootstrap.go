package discussion

// Bootstrap is the payload embedded with the page (or handed to the mirror at
// start-up). It seeds collections that never need a network round-trip.
type Bootstrap struct {
	DiscussionID string            `json:"discussion_id" yaml:"discussion_id"`
	CurrentUser  *User             `json:"current_user,omitempty" yaml:"current_user,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// PreferenceList flattens the preference map into collection items
func (b *Bootstrap) PreferenceList() []*Preference {
	prefs := make([]*Preference, 0, len(b.Preferences))
	for k, v := range b.Preferences {
		prefs = append(prefs, &Preference{Key: k, Value: v})
	}
	return prefs
}

// Envelope is one item delivered by the live feed, still undecoded
type Envelope struct {
	Type      string `json:"@type"`
	ID        string `json:"@id"`
	Tombstone bool   `json:"@tombstone,omitempty"`
	Raw       []byte `json:"-"`
}
