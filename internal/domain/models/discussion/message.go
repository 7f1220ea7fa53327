package discussion

import (
	"time"
)

// DetailLevel distinguishes the cheap structural form of a message from its
// full representation.
type DetailLevel int

const (
	DetailStructure DetailLevel = iota
	DetailFull
)

// ViewMode is passed to the bulk fetch to select the server-side projection
type ViewMode string

const (
	ViewDefault ViewMode = "default"
	ViewID      ViewMode = "id_only"
)

// Message is one post of the discussion. Messages form a forest via ParentID.
type Message struct {
	ID              string         `json:"@id" yaml:"id"`
	Type            string         `json:"@type,omitempty" yaml:"type,omitempty"`
	ParentID        *string        `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
	CreatedAt       time.Time      `json:"date" yaml:"date"`
	CreatorID       string         `json:"idCreator,omitempty" yaml:"creator_id,omitempty"`
	Subject         string         `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body            string         `json:"body,omitempty" yaml:"body,omitempty"`
	LikeCount       int            `json:"like_count,omitempty" yaml:"like_count,omitempty"`
	SentimentCounts map[string]int `json:"sentiment_counts,omitempty" yaml:"sentiment_counts,omitempty"`
	Detail          DetailLevel    `json:"-" yaml:"-"`
	Tombstone       bool           `json:"@tombstone,omitempty" yaml:"-"`

	// LocalID is the client-assigned identity of a message created locally,
	// kept after the server identity is known.
	LocalID string `json:"-" yaml:"-"`
}

func (m *Message) GetID() string          { return m.ID }
func (m *Message) SetID(id string)        { m.ID = id }
func (m *Message) IsTombstone() bool      { return m.Tombstone }
func (m *Message) CreatedTime() time.Time { return m.CreatedAt }
func (m *Message) IsFull() bool           { return m.Detail == DetailFull }

// Parent returns the parent id, or "" for a root message
func (m *Message) Parent() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

// Merge copies other into m. A structural update never erases full-detail
// content already present.
func (m *Message) Merge(other *Message) {
	if other == nil || other == m {
		return
	}
	localID := m.LocalID
	if m.Detail == DetailFull && other.Detail != DetailFull {
		m.ParentID = other.ParentID
		m.CreatedAt = other.CreatedAt
		if other.LikeCount != 0 {
			m.LikeCount = other.LikeCount
		}
		m.Tombstone = other.Tombstone
		return
	}
	*m = *other
	if m.LocalID == "" {
		m.LocalID = localID
	}
}

// SameStructure reports whether other keeps m at the same place in the
// thread tree and in every sort order
func (m *Message) SameStructure(other *Message) bool {
	return m.Parent() == other.Parent() &&
		m.CreatedAt.Equal(other.CreatedAt) &&
		m.CreatorID == other.CreatorID &&
		m.LikeCount == other.LikeCount &&
		m.Tombstone == other.Tombstone
}

// Reparent moves m under to when its parent is currently from
func (m *Message) Reparent(from, to string) bool {
	if from == "" || m.Parent() != from {
		return false
	}
	m.ParentID = &to
	return true
}

// Clone returns a shallow copy safe to hand out to readers
func (m *Message) Clone() *Message {
	c := *m
	if m.SentimentCounts != nil {
		c.SentimentCounts = make(map[string]int, len(m.SentimentCounts))
		for k, v := range m.SentimentCounts {
			c.SentimentCounts[k] = v
		}
	}
	return &c
}

// Tree node accessors used by the threading visitor

func (m *Message) NodeID() string           { return m.ID }
func (m *Message) NodeParentID() string     { return m.Parent() }
func (m *Message) NodeCreatedAt() time.Time { return m.CreatedAt }
func (m *Message) NodeAuthorID() string     { return m.CreatorID }
func (m *Message) NodeLikeCount() int       { return m.LikeCount }
