package discussion

import "time"

// User is a participant profile
type User struct {
	ID        string    `json:"@id" yaml:"id"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	CreatedAt time.Time `json:"creation_date,omitempty" yaml:"created_at,omitempty"`
	Tombstone bool      `json:"@tombstone,omitempty" yaml:"-"`
}

func (u *User) GetID() string          { return u.ID }
func (u *User) SetID(id string)        { u.ID = id }
func (u *User) IsTombstone() bool      { return u.Tombstone }
func (u *User) CreatedTime() time.Time { return u.CreatedAt }

func (u *User) Merge(other *User) {
	if other == nil || other == u {
		return
	}
	*u = *other
}

// Preference is one key/value user or discussion preference
type Preference struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func (p *Preference) GetID() string          { return p.Key }
func (p *Preference) SetID(id string)        { p.Key = id }
func (p *Preference) IsTombstone() bool      { return false }
func (p *Preference) CreatedTime() time.Time { return time.Time{} }

func (p *Preference) Merge(other *Preference) {
	if other == nil || other == p {
		return
	}
	*p = *other
}
