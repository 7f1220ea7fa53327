package discussion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversa/internal/async"
	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	discussionSvc "conversa/internal/domain/services/discussion"
	"conversa/internal/observability"
	"conversa/internal/service/cache"
	"conversa/internal/service/coalescer"
	"conversa/internal/service/threading"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func msg(id, parent, author string, minute int) *models.Message {
	m := &models.Message{ID: id, CreatorID: author, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
	if parent != "" {
		m.ParentID = &parent
	}
	return m
}

type fakeSource struct {
	mu       sync.Mutex
	messages []*models.Message
	ideas    []*models.Idea
	batches  int
	failIDs  map[string]bool
}

func (f *fakeSource) FetchMessageStructures(ctx context.Context) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Message, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Clone()
	}
	return out, nil
}

func (f *fakeSource) FetchIdeas(ctx context.Context) ([]*models.Idea, error) {
	return f.ideas, nil
}

func (f *fakeSource) FetchExtracts(ctx context.Context) ([]*models.Extract, error) {
	return nil, nil
}

func (f *fakeSource) FetchUsers(ctx context.Context) ([]*models.User, error) {
	return nil, nil
}

func (f *fakeSource) FetchMessagesByIDs(ctx context.Context, ids []string, view models.ViewMode) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	var out []*models.Message
	for _, id := range ids {
		if f.failIDs[id] {
			continue
		}
		for _, m := range f.messages {
			if m.ID == id {
				full := m.Clone()
				full.Body = "body of " + id
				out = append(out, full)
			}
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	src   *fakeSource
	cache *cache.Cache
	svc   discussionSvc.ViewService
}

func newFixture(t *testing.T, details DetailRequester, messages ...*models.Message) *fixture {
	t.Helper()
	src := &fakeSource{messages: messages}
	sink := &observability.Recorder{}
	c := cache.New(src, sink, testLogger())
	t.Cleanup(c.Close)

	if details == nil {
		coll, err := c.MessageStructures().Wait(context.Background())
		require.NoError(t, err)
		co := coalescer.New(src, coll, coalescer.Config{Threshold: 50, Lifetime: 2 * time.Millisecond}, sink, testLogger())
		t.Cleanup(co.Close)
		details = co
	}

	return &fixture{
		src:   src,
		cache: c,
		svc:   NewViewService(c, details, ViewConfig{MaxWindowSize: 20, PageSize: 10}, testLogger()),
	}
}

func intp(v int) *int { return &v }

func ids(page *discussionSvc.WindowPage) []string {
	out := make([]string, len(page.Items))
	for i, item := range page.Items {
		out[i] = item.ID
	}
	return out
}

func TestWindow_ThreadedBoundary(t *testing.T) {
	f := newFixture(t, nil,
		msg("A", "", "u1", 1),
		msg("B", "A", "u2", 2),
		msg("C", "", "u1", 3),
		msg("D", "C", "u3", 4),
	)

	page, err := f.svc.Window(context.Background(), &discussionSvc.WindowRequest{Start: intp(1), End: intp(1)})
	require.NoError(t, err)

	assert.Equal(t, models.WindowRange{Start: 0, End: 1}, page.Range)
	assert.Equal(t, []string{"A", "B"}, ids(page))
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, "threaded", page.Mode)
	assert.Equal(t, "chronological", page.Policy)
	assert.Equal(t, "└─", page.Items[1].Prefix)
	assert.Equal(t, 1, page.Items[0].DescendantCount)
	assert.Equal(t, []string{"u1", "u2"}, page.Items[0].DescendantAuthors)
}

func TestWindow_FlatReverseChronological(t *testing.T) {
	f := newFixture(t, nil,
		msg("A", "", "u1", 1),
		msg("B", "A", "u2", 2),
		msg("C", "", "u1", 3),
	)

	page, err := f.svc.Window(context.Background(), &discussionSvc.WindowRequest{
		Mode:   "flat",
		Policy: "reverse_chronological",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, ids(page))
	for _, item := range page.Items {
		assert.Equal(t, 0, item.Level)
		assert.Equal(t, "", item.Prefix)
	}
}

func TestWindow_LoadsDetailInOneBatch(t *testing.T) {
	var messages []*models.Message
	for i := range 12 {
		messages = append(messages, msg(string(rune('a'+i)), "", "u1", i))
	}
	f := newFixture(t, nil, messages...)

	page, err := f.svc.Window(context.Background(), &discussionSvc.WindowRequest{Detail: true})
	require.NoError(t, err)

	require.Len(t, page.Items, 10)
	for _, item := range page.Items {
		assert.Equal(t, "body of "+item.ID, item.Message.Body)
		assert.True(t, item.Message.IsFull())
	}
	f.src.mu.Lock()
	assert.Equal(t, 1, f.src.batches)
	f.src.mu.Unlock()
}

func TestWindow_DetailFailureDegrades(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1), msg("B", "", "u1", 2))
	f.src.mu.Lock()
	f.src.failIDs = map[string]bool{"B": true}
	f.src.mu.Unlock()

	page, err := f.svc.Window(context.Background(), &discussionSvc.WindowRequest{Detail: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, page.Unavailable)
	assert.Equal(t, "body of A", page.Items[0].Message.Body)
	assert.Equal(t, "", page.Items[1].Message.Body, "structural form is kept")
}

func TestWindow_Filters(t *testing.T) {
	f := newFixture(t, nil,
		msg("A", "", "u1", 1),
		msg("B", "A", "u2", 2),
		msg("C", "B", "u1", 3),
		msg("D", "", "u2", 4),
	)

	page, err := f.svc.Window(context.Background(), &discussionSvc.WindowRequest{AuthorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, ids(page))
	assert.True(t, page.Items[1].ParentSkipped)
	assert.Equal(t, "A", page.Items[1].ParentID)

	since := t0.Add(3 * time.Minute)
	page, err = f.svc.Window(context.Background(), &discussionSvc.WindowRequest{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, ids(page))
}

func TestWindow_AnchorFollowsReconciledIdentity(t *testing.T) {
	var messages []*models.Message
	for i := range 40 {
		messages = append(messages, msg(string(rune('A'+i)), "", "u1", i))
	}
	f := newFixture(t, nil, messages...)
	ctx := context.Background()

	local, err := f.cache.AddLocalMessage(ctx, &models.Message{CreatorID: "u1", CreatedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	localID := local.ID
	_, err = f.cache.ConfirmLocalMessage(ctx, localID, "srv-1")
	require.NoError(t, err)

	page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{AnchorID: localID})
	require.NoError(t, err)
	assert.Equal(t, 40, page.Range.End)
	assert.Equal(t, "srv-1", page.Items[len(page.Items)-1].ID)

	_, err = f.svc.Window(ctx, &discussionSvc.WindowRequest{AnchorID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWindow_HideLocal(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()
	parent := "A"
	_, err := f.cache.AddLocalMessage(ctx, &models.Message{ParentID: &parent, CreatorID: "u1"})
	require.NoError(t, err)

	page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = f.svc.Window(ctx, &discussionSvc.WindowRequest{HideLocal: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(page))
}

func TestWindow_LiveUpdateInvalidates(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()

	page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	coll, err := f.cache.MessageStructures().Wait(ctx)
	require.NoError(t, err)
	coll.Apply(msg("B", "A", "u2", 2))

	page, err = f.svc.Window(ctx, &discussionSvc.WindowRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(page))
}

func TestWindow_Validation(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()

	tests := []struct {
		name string
		req  discussionSvc.WindowRequest
	}{
		{name: "unknown mode", req: discussionSvc.WindowRequest{Mode: "grid"}},
		{name: "unknown policy", req: discussionSvc.WindowRequest{Policy: "random"}},
		{name: "negative start", req: discussionSvc.WindowRequest{Start: intp(-1)}},
		{name: "end without start", req: discussionSvc.WindowRequest{End: intp(3)}},
		{name: "end before start", req: discussionSvc.WindowRequest{Start: intp(5), End: intp(3)}},
		{name: "start and offset", req: discussionSvc.WindowRequest{Start: intp(1), Offset: intp(3)}},
		{name: "start and anchor", req: discussionSvc.WindowRequest{Start: intp(1), AnchorID: "A"}},
		{name: "invalid current", req: discussionSvc.WindowRequest{Offset: intp(1), Current: &models.WindowRange{Start: 5, End: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Window(ctx, &tt.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

// gatedDetails resolves detail requests only once its gate opens
type gatedDetails struct {
	mu    sync.Mutex
	gate  chan struct{}
	calls int
}

func (g *gatedDetails) Request(id string) *async.Future[*models.Message] {
	return g.RequestMany([]string{id})[0]
}

func (g *gatedDetails) RequestMany(ids []string) []*async.Future[*models.Message] {
	g.mu.Lock()
	g.calls++
	gate := g.gate
	g.mu.Unlock()

	futures := make([]*async.Future[*models.Message], len(ids))
	for i := range futures {
		futures[i] = async.New[*models.Message]()
	}
	go func() {
		if gate != nil {
			<-gate
		}
		for i, id := range ids {
			futures[i].Resolve(&models.Message{ID: id, Body: "full", Detail: models.DetailFull})
		}
	}()
	return futures
}

func (g *gatedDetails) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestWindow_StaleGenerationIsDiscarded(t *testing.T) {
	details := &gatedDetails{gate: make(chan struct{})}
	f := newFixture(t, details, msg("A", "", "u1", 1))
	ctx := context.Background()

	// warm the structures so both passes reach the detail stage
	_, err := f.cache.MessageStructures().Wait(ctx)
	require.NoError(t, err)

	gate := details.gate
	type result struct {
		page *discussionSvc.WindowPage
		err  error
	}
	first := make(chan result, 1)
	go func() {
		page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{ViewID: "main", Detail: true})
		first <- result{page, err}
	}()
	require.Eventually(t, func() bool { return details.callCount() == 1 }, time.Second, time.Millisecond)

	details.mu.Lock()
	details.gate = nil
	details.mu.Unlock()

	second, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{ViewID: "main", Detail: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Generation)

	// other views keep their own generations
	other, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{ViewID: "sidebar"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.Generation)

	close(gate)
	res := <-first
	assert.Nil(t, res.page)
	assert.True(t, errors.Is(res.err, domain.ErrStaleGeneration))
}

func TestMessage(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()

	m, err := f.svc.Message(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "body of A", m.Body)

	_, err = f.svc.Message(ctx, "Z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIdeaTree(t *testing.T) {
	root := "i1"
	src := &fakeSource{ideas: []*models.Idea{
		{ID: "i1", CreatedAt: t0},
		{ID: "i2", ParentID: &root, CreatedAt: t0.Add(time.Minute)},
		{ID: "i3", ParentID: &root, CreatedAt: t0.Add(2 * time.Minute)},
	}}
	c := cache.New(src, &observability.Recorder{}, testLogger())
	defer c.Close()
	svc := NewViewService(c, &gatedDetails{}, ViewConfig{}, testLogger())

	items, err := svc.IdeaTree(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 2, items[0].DescendantCount)
	assert.Equal(t, "├─", items[1].Prefix)
	assert.Equal(t, "└─", items[2].Prefix)
}

func TestFilterAnd(t *testing.T) {
	n := msg("local:1", "", "u1", 5)

	assert.Equal(t, threading.Include, FilterAnd()(n))
	assert.Equal(t, threading.Include, FilterAnd(nil, FilterByAuthor("u1"))(n))
	assert.Equal(t, threading.Exclude, FilterAnd(FilterByAuthor("u1"), FilterSince(t0.Add(time.Hour)))(n))
	assert.Equal(t, threading.Prune, FilterAnd(FilterSince(t0.Add(time.Hour)), FilterHideLocal())(n))
}

func TestChanges_StreamsUntilCancelled(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx, cancel := context.WithCancel(context.Background())

	changes, err := f.svc.Changes(ctx)
	require.NoError(t, err)

	coll, err := f.cache.MessageStructures().Wait(ctx)
	require.NoError(t, err)
	coll.Apply(msg("B", "A", "u2", 2))
	coll.Remove("B")

	first := <-changes
	assert.Equal(t, "added", first.Type)
	assert.Equal(t, "B", first.ID)
	second := <-changes
	assert.Equal(t, "removed", second.Type)
	assert.Greater(t, second.Version, first.Version)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// no send on the closed channel after unsubscribe
	coll.Apply(msg("C", "", "u1", 3))
}

func TestWindow_FilterSwitchRetraverses(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()

	local, err := f.cache.AddLocalMessage(ctx, &models.Message{CreatorID: "u2", CreatedAt: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	coll, err := f.cache.MessageStructures().Wait(ctx)
	require.NoError(t, err)
	coll.Apply(msg("R", local.ID, "u1", 3))

	// the author filter hides the local root but keeps its reply; hiding
	// local messages drops the reply with it
	page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{AuthorID: "u1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "R"}, ids(page))

	page, err = f.svc.Window(ctx, &discussionSvc.WindowRequest{HideLocal: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(page))
}

func TestWindow_DetailDoesNotInvalidateLinearization(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1), msg("B", "A", "u2", 2))
	ctx := context.Background()

	for range 3 {
		page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{Detail: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, ids(page))
		assert.Equal(t, "body of B", page.Items[1].Message.Body)
	}

	memo := f.svc.(*viewService).memos[threading.ModeThreaded]
	assert.Equal(t, threading.MemoStats{Traversals: 1, Hits: 2}, memo.Stats())
}

func TestWindow_ConfirmedParentKeepsLocalReplies(t *testing.T) {
	f := newFixture(t, nil, msg("A", "", "u1", 1))
	ctx := context.Background()

	parent, err := f.cache.AddLocalMessage(ctx, &models.Message{CreatorID: "u1", CreatedAt: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	parentID := parent.ID
	_, err = f.cache.AddLocalMessage(ctx, &models.Message{ParentID: &parentID, CreatorID: "u1", CreatedAt: t0.Add(3 * time.Minute)})
	require.NoError(t, err)

	_, err = f.cache.ConfirmLocalMessage(ctx, parentID, "srv-1")
	require.NoError(t, err)

	page, err := f.svc.Window(ctx, &discussionSvc.WindowRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "srv-1", page.Items[1].ID)
	assert.Equal(t, 1, page.Items[2].Level)
	assert.Equal(t, "srv-1", page.Items[2].ParentID)
}
