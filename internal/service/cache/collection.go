package cache

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
)

// LocalIDPrefix marks identities assigned on the client before the server
// has answered
const LocalIDPrefix = "local:"

// IsLocalID reports whether id is a client-assigned temporary identity
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Record is the contract every collection item satisfies
type Record[T any] interface {
	GetID() string
	SetID(id string)
	IsTombstone() bool
	CreatedTime() time.Time
	Merge(other T)
}

// structural is implemented by items that can tell a detail-only update
// from one that changes their place in a tree or sort order
type structural[T any] interface {
	SameStructure(other T) bool
}

// parented is implemented by items linked to a parent item of the same
// collection
type parented interface {
	Parent() string
	Reparent(from, to string) bool
}

// ChangeType describes what happened to a collection
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeMerged
	ChangeRemoved
	ChangeReset
	ChangeReplaced
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeMerged:
		return "merged"
	case ChangeRemoved:
		return "removed"
	case ChangeReset:
		return "reset"
	case ChangeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to collection subscribers
type ChangeEvent struct {
	Kind    models.Kind
	Type    ChangeType
	ID      string
	OldID   string // ChangeReplaced: the identity holders should stop using
	Version uint64
}

// Collection is an identity-indexed, creation-ordered set of items of one kind.
// Every structural mutation bumps Version, which downstream caches use for
// invalidation. Detail-only merges (MergeDetail) leave it unchanged.
type Collection[T Record[T]] struct {
	kind models.Kind

	mu        sync.RWMutex
	items     map[string]T
	aliases   map[string]string
	version   uint64
	sorted    []T
	sortedVer uint64

	listenersMu sync.Mutex
	listeners   map[int]func(ChangeEvent)
	nextID      int
}

// NewCollection creates an empty collection of the given kind
func NewCollection[T Record[T]](kind models.Kind) *Collection[T] {
	return &Collection[T]{
		kind:      kind,
		items:     make(map[string]T),
		aliases:   make(map[string]string),
		listeners: make(map[int]func(ChangeEvent)),
	}
}

// Kind returns the collection kind
func (c *Collection[T]) Kind() models.Kind {
	return c.kind
}

// Version returns the mutation counter
func (c *Collection[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Len returns the number of items
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Get returns the item for id, following reconciliation aliases
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[c.canonicalLocked(id)]
	return item, ok
}

// View runs fn on the item for id while holding the read lock. fn must not
// keep the item or call back into the collection.
func (c *Collection[T]) View(id string, fn func(T)) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[c.canonicalLocked(id)]
	if ok {
		fn(item)
	}
	return ok
}

// Has reports whether id (or an alias of it) is present
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Canonical returns the identity currently used for id
func (c *Collection[T]) Canonical(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canonicalLocked(id)
}

func (c *Collection[T]) canonicalLocked(id string) string {
	// alias chains are short; bound the walk anyway
	for range 8 {
		next, ok := c.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

// All returns the items ordered by creation time, then identity
func (c *Collection[T]) All() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sorted == nil || c.sortedVer != c.version {
		sorted := make([]T, 0, len(c.items))
		for _, item := range c.items {
			sorted = append(sorted, item)
		}
		slices.SortFunc(sorted, compareRecords[T])
		c.sorted = sorted
		c.sortedVer = c.version
	}
	return slices.Clone(c.sorted)
}

// Snapshot returns copies of the items in creation order together with the
// version they were taken at. Copies are made under the collection lock, so
// they stay consistent while the collection keeps changing.
func (c *Collection[T]) Snapshot(copyFn func(T) T) ([]T, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, copyFn(item))
	}
	slices.SortFunc(out, compareRecords[T])
	return out, c.version
}

func compareRecords[T Record[T]](a, b T) int {
	if cmp := a.CreatedTime().Compare(b.CreatedTime()); cmp != 0 {
		return cmp
	}
	return strings.Compare(a.GetID(), b.GetID())
}

// IDs returns the identities in creation order
func (c *Collection[T]) IDs() []string {
	all := c.All()
	ids := make([]string, len(all))
	for i, item := range all {
		ids[i] = item.GetID()
	}
	return ids
}

// Upsert adds item, or merges it into the existing item with the same identity
func (c *Collection[T]) Upsert(item T) ChangeType {
	c.mu.Lock()
	change := c.upsertLocked(item)
	ev := c.eventLocked(change, item.GetID(), "")
	c.mu.Unlock()

	c.notify(ev)
	return change
}

// MergeDetail merges a richer representation of an item. When the item keeps
// its structure the version is not bumped, so linearizations built on the
// collection stay valid. Unknown items are added like Upsert does.
func (c *Collection[T]) MergeDetail(item T) ChangeType {
	c.mu.Lock()
	var change ChangeType
	existing, ok := c.items[c.canonicalLocked(item.GetID())]
	if s, isStructural := any(existing).(structural[T]); ok && isStructural && s.SameStructure(item) {
		change = c.putLocked(item)
	} else {
		change = c.upsertLocked(item)
	}
	ev := c.eventLocked(change, item.GetID(), "")
	c.mu.Unlock()

	c.notify(ev)
	return change
}

func (c *Collection[T]) upsertLocked(item T) ChangeType {
	c.version++
	return c.putLocked(item)
}

// putLocked stores item without touching the version
func (c *Collection[T]) putLocked(item T) ChangeType {
	id := c.canonicalLocked(item.GetID())
	if p, ok := any(item).(parented); ok {
		// a reply may still name its parent by a reconciled local identity
		if parent := p.Parent(); parent != "" {
			if canonical := c.canonicalLocked(parent); canonical != parent {
				p.Reparent(parent, canonical)
			}
		}
	}
	if existing, ok := c.items[id]; ok {
		existing.Merge(item)
		// merging a server copy may carry the pre-alias identity
		existing.SetID(id)
		return ChangeMerged
	}
	c.items[id] = item
	return ChangeAdded
}

// Remove deletes the item for id. Returns false when absent.
func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	id = c.canonicalLocked(id)
	if _, ok := c.items[id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.items, id)
	c.version++
	ev := c.eventLocked(ChangeRemoved, id, "")
	c.mu.Unlock()

	c.notify(ev)
	return true
}

// Apply upserts item, or removes it when it is a tombstone
func (c *Collection[T]) Apply(item T) ChangeType {
	if item.IsTombstone() {
		c.Remove(item.GetID())
		return ChangeRemoved
	}
	return c.Upsert(item)
}

// Add merges a batch of items without removing anything
func (c *Collection[T]) Add(items []T) {
	c.mu.Lock()
	for _, item := range items {
		if item.IsTombstone() {
			continue
		}
		c.upsertLocked(item)
	}
	c.version++
	ev := c.eventLocked(ChangeReset, "", "")
	c.mu.Unlock()

	c.notify(ev)
}

// Reset makes the collection match items: new ones are added, existing ones
// merged, and absent ones removed. Client-local items survive a reset.
func (c *Collection[T]) Reset(items []T) {
	c.mu.Lock()
	keep := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.IsTombstone() {
			continue
		}
		c.upsertLocked(item)
		keep[c.canonicalLocked(item.GetID())] = struct{}{}
	}
	for id := range c.items {
		if _, ok := keep[id]; ok || IsLocalID(id) {
			continue
		}
		delete(c.items, id)
	}
	c.version++
	ev := c.eventLocked(ChangeReset, "", "")
	c.mu.Unlock()

	c.notify(ev)
}

// Reconcile gives the local item localID its permanent identity serverID.
// If a duplicate already arrived under serverID (through the live feed), the
// local item wins: the duplicate's content is merged into it and the
// duplicate is discarded. Lookups of either identity resolve to the kept item,
// and replies to the local identity are moved under the server identity.
func (c *Collection[T]) Reconcile(localID, serverID string) (kept T, discarded bool, err error) {
	if IsLocalID(serverID) {
		return kept, false, &domain.ConflictError{
			Message:      fmt.Sprintf("identity %s is itself local", serverID),
			ResourceType: c.kind.String(),
			ResourceID:   serverID,
		}
	}

	c.mu.Lock()
	local, ok := c.items[localID]
	if !ok {
		c.mu.Unlock()
		return kept, false, &domain.NotFoundError{Message: fmt.Sprintf("local item %s not found", localID)}
	}
	if dup, exists := c.items[serverID]; exists {
		local.Merge(dup)
		discarded = true
	}
	delete(c.items, localID)
	local.SetID(serverID)
	c.items[serverID] = local
	c.aliases[localID] = serverID
	for _, item := range c.items {
		if p, ok := any(item).(parented); ok {
			p.Reparent(localID, serverID)
		}
	}
	c.version++
	ev := c.eventLocked(ChangeReplaced, serverID, localID)
	c.mu.Unlock()

	c.notify(ev)
	return local, discarded, nil
}

// Subscribe registers fn for every change. The returned func unsubscribes.
// fn runs outside the collection lock and may read the collection.
func (c *Collection[T]) Subscribe(fn func(ChangeEvent)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Collection[T]) eventLocked(t ChangeType, id, oldID string) ChangeEvent {
	return ChangeEvent{Kind: c.kind, Type: t, ID: id, OldID: oldID, Version: c.version}
}

func (c *Collection[T]) notify(ev ChangeEvent) {
	c.listenersMu.Lock()
	fns := make([]func(ChangeEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
