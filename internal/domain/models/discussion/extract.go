package discussion

import "time"

// Extract is a highlighted fragment of a message, optionally linked to an idea
type Extract struct {
	ID        string    `json:"@id"`
	MessageID string    `json:"idPost,omitempty"`
	IdeaID    *string   `json:"idIdea,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created"`
	Tombstone bool      `json:"@tombstone,omitempty"`
}

func (e *Extract) GetID() string          { return e.ID }
func (e *Extract) SetID(id string)        { e.ID = id }
func (e *Extract) IsTombstone() bool      { return e.Tombstone }
func (e *Extract) CreatedTime() time.Time { return e.CreatedAt }

func (e *Extract) Merge(other *Extract) {
	if other == nil || other == e {
		return
	}
	*e = *other
}
