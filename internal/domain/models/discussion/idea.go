package discussion

import "time"

// Idea is a node of the discussion's idea tree
type Idea struct {
	ID         string    `json:"@id"`
	Type       string    `json:"@type,omitempty"`
	ParentID   *string   `json:"parentId,omitempty"`
	CreatedAt  time.Time `json:"creationDate"`
	ShortTitle string    `json:"shortTitle,omitempty"`
	Definition string    `json:"definition,omitempty"`
	Order      float64   `json:"order,omitempty"`
	Tombstone  bool      `json:"@tombstone,omitempty"`
}

func (i *Idea) GetID() string          { return i.ID }
func (i *Idea) SetID(id string)        { i.ID = id }
func (i *Idea) IsTombstone() bool      { return i.Tombstone }
func (i *Idea) CreatedTime() time.Time { return i.CreatedAt }

func (i *Idea) Merge(other *Idea) {
	if other == nil || other == i {
		return
	}
	*i = *other
}

func (i *Idea) NodeID() string { return i.ID }

func (i *Idea) NodeParentID() string {
	if i.ParentID == nil {
		return ""
	}
	return *i.ParentID
}

func (i *Idea) NodeCreatedAt() time.Time { return i.CreatedAt }
func (i *Idea) NodeAuthorID() string     { return "" }
func (i *Idea) NodeLikeCount() int       { return 0 }

// Clone returns a copy safe to hand out to readers
func (i *Idea) Clone() *Idea {
	c := *i
	return &c
}
