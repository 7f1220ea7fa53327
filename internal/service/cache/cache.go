package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"conversa/internal/async"
	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	repos "conversa/internal/domain/repositories/discussion"
	"conversa/internal/observability"
)

// entry pairs a materialized collection with its memoized completion handle
type entry[T Record[T]] struct {
	coll   *Collection[T]
	future *async.Future[*Collection[T]]
}

// Cache owns one collection per kind. A collection is created and fetched on
// first demand; while that fetch is pending every caller receives the same
// handle, so a kind is never fetched twice concurrently.
type Cache struct {
	source repos.CollectionSource
	sink   observability.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	messages    entry[*models.Message]
	ideas       entry[*models.Idea]
	extracts    entry[*models.Extract]
	users       entry[*models.User]
	currentUser entry[*models.User]
	preferences entry[*models.Preference]
	refreshing  bool
	fetches     map[models.Kind]int
}

// New creates a cache over source. Fetch failures are reported to sink.
func New(source repos.CollectionSource, sink observability.Sink, logger *slog.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		source:  source,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		fetches: make(map[models.Kind]int),
	}
}

// Close abandons in-flight fetches
func (c *Cache) Close() {
	c.cancel()
}

// MessageStructures returns the handle of the structural message collection
func (c *Cache) MessageStructures() *async.Future[*Collection[*models.Message]] {
	return load(c, &c.messages, models.KindMessageStructures, c.source.FetchMessageStructures)
}

// Ideas returns the handle of the idea collection
func (c *Cache) Ideas() *async.Future[*Collection[*models.Idea]] {
	return load(c, &c.ideas, models.KindIdeas, c.source.FetchIdeas)
}

// Extracts returns the handle of the extract collection
func (c *Cache) Extracts() *async.Future[*Collection[*models.Extract]] {
	return load(c, &c.extracts, models.KindExtracts, c.source.FetchExtracts)
}

// Users returns the handle of the participant collection
func (c *Cache) Users() *async.Future[*Collection[*models.User]] {
	return load(c, &c.users, models.KindUsers, c.source.FetchUsers)
}

// CurrentUser returns the handle of the single-item current user collection.
// It settles when Seed is called.
func (c *Cache) CurrentUser() *async.Future[*Collection[*models.User]] {
	return pending(c, &c.currentUser, models.KindCurrentUser)
}

// Preferences returns the handle of the preference collection.
// It settles when Seed is called.
func (c *Cache) Preferences() *async.Future[*Collection[*models.Preference]] {
	return pending(c, &c.preferences, models.KindPreferences)
}

// Handle returns the untyped handle for kind
func (c *Cache) Handle(kind models.Kind) async.Waiter {
	switch kind {
	case models.KindMessageStructures:
		return c.MessageStructures()
	case models.KindIdeas:
		return c.Ideas()
	case models.KindExtracts:
		return c.Extracts()
	case models.KindUsers:
		return c.Users()
	case models.KindCurrentUser:
		return c.CurrentUser()
	case models.KindPreferences:
		return c.Preferences()
	default:
		panic(fmt.Sprintf("cache: unhandled kind %v", kind))
	}
}

// FetchCount returns how many network fetches were issued for kind
func (c *Cache) FetchCount(kind models.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[kind]
}

func load[T Record[T]](c *Cache, e *entry[T], kind models.Kind, fetch func(context.Context) ([]T, error)) *async.Future[*Collection[T]] {
	c.mu.Lock()
	if e.future != nil {
		f := e.future
		c.mu.Unlock()
		return f
	}
	e.coll = NewCollection[T](kind)
	e.future = async.New[*Collection[T]]()
	c.fetches[kind]++
	coll, f := e.coll, e.future
	c.mu.Unlock()

	c.logger.Debug("collection fetch started", "kind", kind.String())

	go func() {
		start := time.Now()
		items, err := fetch(c.ctx)
		if err != nil {
			c.sink.FetchFailed(c.ctx, kind.String(), err)
			f.Reject(&domain.FetchError{Source: kind.String(), Err: err})
			return
		}
		// items delivered by the live feed during the fetch are kept
		coll.Add(items)
		f.Resolve(coll)

		c.logger.Info("collection loaded",
			"kind", kind.String(),
			"count", coll.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return f
}

func pending[T Record[T]](c *Cache, e *entry[T], kind models.Kind) *async.Future[*Collection[T]] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.future == nil {
		e.coll = NewCollection[T](kind)
		e.future = async.New[*Collection[T]]()
	}
	return e.future
}

// Seed fills the bootstrapped collections synchronously from the embedded
// payload. Seeding again replaces their content.
func (c *Cache) Seed(b *models.Bootstrap) {
	users, usersFuture := seeded(c, &c.currentUser, models.KindCurrentUser)
	var current []*models.User
	if b.CurrentUser != nil {
		current = append(current, b.CurrentUser)
	}
	users.Reset(current)
	usersFuture.Resolve(users)

	prefs, prefsFuture := seeded(c, &c.preferences, models.KindPreferences)
	prefs.Reset(b.PreferenceList())
	prefsFuture.Resolve(prefs)

	c.logger.Debug("bootstrap collections seeded",
		"discussion_id", b.DiscussionID,
		"preferences", len(b.Preferences),
	)
}

func seeded[T Record[T]](c *Cache, e *entry[T], kind models.Kind) (*Collection[T], *async.Future[*Collection[T]]) {
	f := pending(c, e, kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.coll, f
}

// Warm triggers every network-backed collection and waits for all of them
func (c *Cache) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { _, err := c.MessageStructures().Wait(ctx); return err })
	g.Go(func() error { _, err := c.Ideas().Wait(ctx); return err })
	g.Go(func() error { _, err := c.Extracts().Wait(ctx); return err })
	g.Go(func() error { _, err := c.Users().Wait(ctx); return err })
	return g.Wait()
}

// OnReconnected refetches the message structures, but only when they were
// already loaded: a pending fetch is never doubled, and at most one refresh
// runs at a time.
func (c *Cache) OnReconnected() {
	c.mu.Lock()
	f := c.messages.future
	if f == nil || !f.Resolved() || c.refreshing {
		c.mu.Unlock()
		c.logger.Debug("reconnect refetch skipped")
		return
	}
	c.refreshing = true
	c.fetches[models.KindMessageStructures]++
	coll := c.messages.coll
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.refreshing = false
			c.mu.Unlock()
		}()

		items, err := c.source.FetchMessageStructures(c.ctx)
		if err != nil {
			// the stale collection stays usable
			c.sink.FetchFailed(c.ctx, models.KindMessageStructures.String(), err)
			return
		}
		coll.Reset(items)
		c.logger.Info("message structures refetched after reconnect", "count", coll.Len())
	}()
}

// Refreshing reports whether a reconnect refetch is running
func (c *Cache) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// OnItemReceived routes a live-feed item to the collection owning its type.
// Items for collections that are not materialized yet are dropped: the
// pending or future fetch will include them.
func (c *Cache) OnItemReceived(env models.Envelope) {
	kind, err := models.KindForType(env.Type)
	if err != nil {
		c.sink.InvariantViolated(c.ctx, "unroutable feed item", "id", env.ID, "type", env.Type)
		return
	}

	switch kind {
	case models.KindMessageStructures:
		applyEnvelope(c, &c.messages, env, func(m *models.Message) {
			// the feed carries the full representation
			m.Detail = models.DetailFull
		})
	case models.KindIdeas:
		applyEnvelope[*models.Idea](c, &c.ideas, env, nil)
	case models.KindExtracts:
		applyEnvelope[*models.Extract](c, &c.extracts, env, nil)
	case models.KindUsers:
		applyEnvelope[*models.User](c, &c.users, env, nil)
	case models.KindCurrentUser, models.KindPreferences:
		c.sink.InvariantViolated(c.ctx, "feed item for bootstrapped collection", "id", env.ID, "kind", kind.String())
	}
}

func applyEnvelope[T Record[T]](c *Cache, e *entry[T], env models.Envelope, prepare func(T)) {
	c.mu.Lock()
	coll := e.coll
	c.mu.Unlock()
	if coll == nil {
		c.logger.Debug("feed item for unloaded collection dropped", "id", env.ID, "type", env.Type)
		return
	}

	if env.Tombstone {
		coll.Remove(env.ID)
		return
	}

	item := newRecord[T]()
	if err := json.Unmarshal(env.Raw, item); err != nil {
		c.sink.InvariantViolated(c.ctx, "undecodable feed item", "id", env.ID, "error", err)
		return
	}
	if item.GetID() == "" {
		item.SetID(env.ID)
	}
	if prepare != nil {
		prepare(item)
	}
	change := coll.Apply(item)

	c.logger.Debug("feed item applied",
		"id", item.GetID(),
		"kind", coll.Kind().String(),
		"change", change.String(),
	)
}

// newRecord allocates the concrete value behind a pointer record type
func newRecord[T Record[T]]() T {
	var zero T
	switch any(zero).(type) {
	case *models.Message:
		return any(&models.Message{}).(T)
	case *models.Idea:
		return any(&models.Idea{}).(T)
	case *models.Extract:
		return any(&models.Extract{}).(T)
	case *models.User:
		return any(&models.User{}).(T)
	case *models.Preference:
		return any(&models.Preference{}).(T)
	default:
		panic(fmt.Sprintf("cache: no constructor for %T", zero))
	}
}

// AddLocalMessage inserts a message created on this client under a temporary
// identity. The message collection must already be loaded.
func (c *Cache) AddLocalMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	coll, err := c.MessageStructures().Wait(ctx)
	if err != nil {
		return nil, err
	}
	msg.ID = LocalIDPrefix + uuid.NewString()
	msg.LocalID = msg.ID
	msg.Detail = models.DetailFull
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	coll.Upsert(msg)
	return msg, nil
}

// ConfirmLocalMessage records the permanent identity the server assigned to
// a local message, reconciling with any duplicate the live feed delivered.
func (c *Cache) ConfirmLocalMessage(ctx context.Context, localID, serverID string) (*models.Message, error) {
	coll, err := c.MessageStructures().Wait(ctx)
	if err != nil {
		return nil, err
	}
	kept, discarded, err := coll.Reconcile(localID, serverID)
	if err != nil {
		return nil, fmt.Errorf("confirm local message: %w", err)
	}
	c.logger.Info("local message confirmed",
		"local_id", localID,
		"id", serverID,
		"duplicate_discarded", discarded,
	)
	return kept, nil
}
