package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	"conversa/internal/observability"
)

// fakeSource is a CollectionSource whose message fetch blocks until released
type fakeSource struct {
	mu       sync.Mutex
	calls    map[string]int
	messages []*models.Message
	failWith error
	gate     chan struct{}
}

func newFakeSource(messages ...*models.Message) *fakeSource {
	return &fakeSource{calls: make(map[string]int), messages: messages}
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) FetchMessageStructures(ctx context.Context) ([]*models.Message, error) {
	f.mu.Lock()
	f.calls["messages"]++
	gate, err := f.gate, f.failWith
	out := make([]*models.Message, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Clone()
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeSource) FetchIdeas(ctx context.Context) ([]*models.Idea, error) {
	f.mu.Lock()
	f.calls["ideas"]++
	f.mu.Unlock()
	return []*models.Idea{{ID: "i1"}}, nil
}

func (f *fakeSource) FetchExtracts(ctx context.Context) ([]*models.Extract, error) {
	f.mu.Lock()
	f.calls["extracts"]++
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeSource) FetchUsers(ctx context.Context) ([]*models.User, error) {
	f.mu.Lock()
	f.calls["users"]++
	f.mu.Unlock()
	return []*models.User{{ID: "u1", Name: "Ada"}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(id string, parent string, minute int) *models.Message {
	m := &models.Message{
		ID:        id,
		CreatedAt: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		CreatorID: "u1",
	}
	if parent != "" {
		m.ParentID = &parent
	}
	return m
}

func TestCache_DedupConcurrentGets(t *testing.T) {
	src := newFakeSource(msg("a", "", 1), msg("b", "a", 2))
	src.gate = make(chan struct{})
	c := New(src, &observability.Recorder{}, testLogger())
	defer c.Close()

	const callers = 20
	first := c.MessageStructures()

	var wg sync.WaitGroup
	results := make([]*Collection[*models.Message], callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := c.MessageStructures()
			assert.Same(t, first, f, "every caller must observe the same handle")
			coll, err := f.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = coll
		}()
	}

	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.count("messages"))
	assert.Equal(t, 1, c.FetchCount(models.KindMessageStructures))
	for _, coll := range results {
		assert.Same(t, results[0], coll)
	}
	assert.Equal(t, 2, results[0].Len())
}

func TestCache_FetchFailureIsReportedAndNotRetried(t *testing.T) {
	src := newFakeSource()
	src.failWith = errors.New("connection refused")
	sink := &observability.Recorder{}
	c := New(src, sink, testLogger())
	defer c.Close()

	_, err := c.MessageStructures().Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollectionUnavailable)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, sink.Count("fetch_failed"))

	// a failed handle is final
	_, err = c.MessageStructures().Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrCollectionUnavailable)
	assert.Equal(t, 1, src.count("messages"))
}

func TestCache_ReconnectRefetchOnlyWhenResolved(t *testing.T) {
	src := newFakeSource(msg("a", "", 1))
	src.gate = make(chan struct{})
	c := New(src, &observability.Recorder{}, testLogger())
	defer c.Close()

	f := c.MessageStructures()
	c.OnReconnected()
	c.OnReconnected()
	assert.Equal(t, 1, src.count("messages"), "pending fetch must not be doubled")

	close(src.gate)
	coll, err := f.Wait(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.messages = append(src.messages, msg("b", "", 2))
	src.mu.Unlock()

	c.OnReconnected()
	require.Eventually(t, func() bool { return coll.Has("b") && !c.Refreshing() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, src.count("messages"))
	assert.Same(t, f, c.MessageStructures(), "refetch keeps the handle")
}

func TestCache_SeedBootstrapCollections(t *testing.T) {
	c := New(newFakeSource(), &observability.Recorder{}, testLogger())
	defer c.Close()

	f := c.CurrentUser()
	assert.False(t, f.Settled())

	c.Seed(&models.Bootstrap{
		DiscussionID: "d1",
		CurrentUser:  &models.User{ID: "u9", Name: "Grace"},
		Preferences:  map[string]string{"default_sort": "chronological"},
	})

	users, err := f.Wait(context.Background())
	require.NoError(t, err)
	u, ok := users.Get("u9")
	require.True(t, ok)
	assert.Equal(t, "Grace", u.Name)

	prefs, err := c.Preferences().Wait(context.Background())
	require.NoError(t, err)
	p, ok := prefs.Get("default_sort")
	require.True(t, ok)
	assert.Equal(t, "chronological", p.Value)
}

func feedEnvelope(t *testing.T, wireType string, v any) models.Envelope {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	env.Raw = raw
	return env
}

func TestCache_OnItemReceived(t *testing.T) {
	src := newFakeSource(msg("a", "", 1))
	sink := &observability.Recorder{}
	c := New(src, sink, testLogger())
	defer c.Close()

	coll, err := c.MessageStructures().Wait(context.Background())
	require.NoError(t, err)
	v0 := coll.Version()

	incoming := msg("b", "a", 2)
	incoming.Type = "AssemblPost"
	incoming.Body = "hello"
	c.OnItemReceived(feedEnvelope(t, "AssemblPost", incoming))

	b, ok := coll.Get("b")
	require.True(t, ok)
	assert.Equal(t, "hello", b.Body)
	assert.True(t, b.IsFull())
	assert.Greater(t, coll.Version(), v0)

	c.OnItemReceived(models.Envelope{Type: "AssemblPost", ID: "b", Tombstone: true})
	assert.False(t, coll.Has("b"))

	c.OnItemReceived(models.Envelope{Type: "Mystery", ID: "x"})
	assert.Equal(t, 1, sink.Count("invariant"))
}

func TestCache_OnItemReceivedBeforeLoadIsDropped(t *testing.T) {
	c := New(newFakeSource(), &observability.Recorder{}, testLogger())
	defer c.Close()

	c.OnItemReceived(feedEnvelope(t, "Idea", &models.Idea{ID: "i2", Type: "Idea"}))
	ideas, err := c.Ideas().Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, ideas.Has("i2"))
	assert.True(t, ideas.Has("i1"))
}

func TestCache_LocalMessageReconciliation(t *testing.T) {
	src := newFakeSource(msg("a", "", 1))
	c := New(src, &observability.Recorder{}, testLogger())
	defer c.Close()
	ctx := context.Background()

	coll, err := c.MessageStructures().Wait(ctx)
	require.NoError(t, err)

	parent := "a"
	local, err := c.AddLocalMessage(ctx, &models.Message{ParentID: &parent, Body: "my reply", CreatorID: "u1"})
	require.NoError(t, err)
	localID := local.ID
	assert.True(t, IsLocalID(localID))

	var replaced []ChangeEvent
	unsubscribe := coll.Subscribe(func(ev ChangeEvent) {
		if ev.Type == ChangeReplaced {
			replaced = append(replaced, ev)
		}
	})
	defer unsubscribe()

	// the live feed delivers the same message under its server identity first
	dup := msg("srv-1", "a", 5)
	dup.Type = "AssemblPost"
	dup.Body = "my reply"
	c.OnItemReceived(feedEnvelope(t, "AssemblPost", dup))
	require.True(t, coll.Has("srv-1"))

	kept, err := c.ConfirmLocalMessage(ctx, localID, "srv-1")
	require.NoError(t, err)

	assert.Same(t, local, kept, "the local item wins")
	assert.Equal(t, "srv-1", kept.ID)
	assert.Equal(t, localID, kept.LocalID)

	byServer, ok := coll.Get("srv-1")
	require.True(t, ok)
	assert.Same(t, kept, byServer)
	byLocal, ok := coll.Get(localID)
	require.True(t, ok)
	assert.Same(t, kept, byLocal, "holders of the old identity are redirected")
	assert.Equal(t, 2, coll.Len())

	require.Len(t, replaced, 1)
	assert.Equal(t, localID, replaced[0].OldID)
	assert.Equal(t, "srv-1", replaced[0].ID)

	// later feed updates land on the kept item
	update := msg("srv-1", "a", 5)
	update.Type = "AssemblPost"
	update.Body = "edited"
	c.OnItemReceived(feedEnvelope(t, "AssemblPost", update))
	assert.Equal(t, "edited", kept.Body)
}

func TestCache_ConfirmUnknownLocalMessage(t *testing.T) {
	c := New(newFakeSource(), &observability.Recorder{}, testLogger())
	defer c.Close()

	_, err := c.ConfirmLocalMessage(context.Background(), "local:nope", "srv")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCache_Warm(t *testing.T) {
	src := newFakeSource(msg("a", "", 1))
	c := New(src, &observability.Recorder{}, testLogger())
	defer c.Close()

	require.NoError(t, c.Warm(context.Background()))
	for _, name := range []string{"messages", "ideas", "extracts", "users"} {
		assert.Equal(t, 1, src.count(name), name)
	}
	assert.True(t, c.Handle(models.KindUsers).(interface{ Resolved() bool }).Resolved())
}

func TestCache_ConfirmMovesLocalReplies(t *testing.T) {
	c := New(newFakeSource(msg("a", "", 1)), &observability.Recorder{}, testLogger())
	defer c.Close()
	ctx := context.Background()

	coll, err := c.MessageStructures().Wait(ctx)
	require.NoError(t, err)

	parent, err := c.AddLocalMessage(ctx, &models.Message{Body: "question", CreatorID: "u1"})
	require.NoError(t, err)
	parentID := parent.ID
	reply, err := c.AddLocalMessage(ctx, &models.Message{ParentID: &parentID, Body: "follow-up", CreatorID: "u1"})
	require.NoError(t, err)

	_, err = c.ConfirmLocalMessage(ctx, parentID, "srv-1")
	require.NoError(t, err)

	got, ok := coll.Get(reply.ID)
	require.True(t, ok)
	assert.Equal(t, "srv-1", got.Parent())

	// a reply written against the old identity after confirmation lands
	// under the server identity too
	late, err := c.AddLocalMessage(ctx, &models.Message{ParentID: &parentID, Body: "late", CreatorID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", late.Parent())
}

func TestCollection_MergeDetailKeepsVersion(t *testing.T) {
	coll := NewCollection[*models.Message](models.KindMessageStructures)
	coll.Add([]*models.Message{msg("a", "", 1), msg("b", "a", 2)})
	v0 := coll.Version()

	var events []ChangeEvent
	unsubscribe := coll.Subscribe(func(ev ChangeEvent) { events = append(events, ev) })
	defer unsubscribe()

	full := msg("b", "a", 2)
	full.Body = "hello"
	full.Detail = models.DetailFull
	assert.Equal(t, ChangeMerged, coll.MergeDetail(full))
	assert.Equal(t, v0, coll.Version(), "detail alone does not move the item")
	b, _ := coll.Get("b")
	assert.Equal(t, "hello", b.Body)
	require.Len(t, events, 1)

	liked := msg("b", "a", 2)
	liked.LikeCount = 3
	liked.Detail = models.DetailFull
	coll.MergeDetail(liked)
	assert.Greater(t, coll.Version(), v0, "a like count change reorders popularity views")

	v1 := coll.Version()
	assert.Equal(t, ChangeAdded, coll.MergeDetail(msg("c", "", 3)))
	assert.Greater(t, coll.Version(), v1)
}
