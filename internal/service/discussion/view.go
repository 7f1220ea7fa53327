// Package discussion renders bounded windows over the mirrored discussion:
// it ties the collection cache, the threading engine and the detail
// coalescer together.
package discussion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"conversa/internal/async"
	"conversa/internal/config"
	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	discussionSvc "conversa/internal/domain/services/discussion"
	"conversa/internal/service/cache"
	"conversa/internal/service/threading"
)

// DefaultViewID is used when a request does not name its view
const DefaultViewID = "default"

// DetailRequester loads the full representation of messages
type DetailRequester interface {
	Request(id string) *async.Future[*models.Message]
	RequestMany(ids []string) []*async.Future[*models.Message]
}

// ViewConfig holds the window limits
type ViewConfig struct {
	MaxWindowSize int
	PageSize      int
}

// viewService implements the ViewService interface
type viewService struct {
	cache   *cache.Cache
	details DetailRequester
	cfg     ViewConfig
	logger  *slog.Logger

	memos map[threading.Mode]*threading.Memo
	ideas threading.Memo

	mu          sync.Mutex
	generations map[string]uint64
}

// NewViewService creates a new view service
func NewViewService(
	c *cache.Cache,
	details DetailRequester,
	cfg ViewConfig,
	logger *slog.Logger,
) discussionSvc.ViewService {
	if cfg.MaxWindowSize <= 0 {
		cfg.MaxWindowSize = config.MaxWindowSize
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = config.PageSize
	}
	return &viewService{
		cache:   c,
		details: details,
		cfg:     cfg,
		logger:  logger,
		memos: map[threading.Mode]*threading.Memo{
			threading.ModeFlat:     {},
			threading.ModeThreaded: {},
		},
		generations: make(map[string]uint64),
	}
}

// Window computes the window described by req and materializes its items
func (s *viewService) Window(ctx context.Context, req *discussionSvc.WindowRequest) (*discussionSvc.WindowPage, error) {
	if err := s.validateWindowRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	mode := threading.ModeThreaded
	if req.Mode != "" {
		mode, _ = threading.ParseMode(req.Mode)
	}
	policy := threading.PolicyChronological
	if req.Policy != "" {
		policy, _ = threading.ParsePolicy(req.Policy)
	}

	viewID := req.ViewID
	if viewID == "" {
		viewID = DefaultViewID
	}
	gen := s.nextGeneration(viewID)

	coll, err := s.cache.MessageStructures().Wait(ctx)
	if err != nil {
		return nil, err
	}

	messages, version := coll.Snapshot((*models.Message).Clone)
	lin := s.memos[mode].Linearize(threading.Nodes(messages), threading.Query{
		Version: version,
		Filter:  buildFilter(req),
		Policy:  policy,
		Mode:    mode,
	})

	planner := threading.Planner{Mode: mode, MaxWindow: s.cfg.MaxWindowSize, PageSize: s.cfg.PageSize}
	current := threading.EmptyRange
	if req.Current != nil {
		current = threading.Range{Start: req.Current.Start, End: req.Current.End}
	}

	var window threading.Range
	switch {
	case req.AnchorID != "":
		window, err = planner.PlanForID(lin, coll.Canonical(req.AnchorID), current)
		if err != nil {
			return nil, err
		}
	case req.Offset != nil:
		window = planner.PlanForOffset(lin, *req.Offset, current)
	case req.Start != nil:
		end := *req.Start + s.cfg.PageSize - 1
		if req.End != nil {
			end = *req.End
		}
		window = planner.Plan(lin, threading.Range{Start: *req.Start, End: end})
	default:
		window = planner.Plan(lin, threading.Range{Start: 0, End: s.cfg.PageSize - 1})
	}

	page := &discussionSvc.WindowPage{
		Generation: gen,
		Mode:       mode.String(),
		Policy:     policy.String(),
		Range:      models.WindowRange{Start: window.Start, End: window.End},
		Total:      lin.Len(),
		Items:      make([]discussionSvc.WindowItem, 0, window.Len()),
	}
	for i := window.Start; i <= window.End; i++ {
		page.Items = append(page.Items, windowItem(lin, lin.At(i)))
	}

	if req.Detail && len(page.Items) > 0 {
		if err := s.loadDetail(ctx, page); err != nil {
			return nil, err
		}
	}

	// a newer pass for this view owns the screen now
	if !s.isCurrent(viewID, gen) {
		s.logger.Debug("stale window discarded",
			"view_id", viewID,
			"generation", gen,
		)
		return nil, domain.ErrStaleGeneration
	}

	s.logger.Debug("window rendered",
		"view_id", viewID,
		"generation", gen,
		"mode", page.Mode,
		"policy", page.Policy,
		"start", window.Start,
		"end", window.End,
		"total", page.Total,
	)
	return page, nil
}

func (s *viewService) loadDetail(ctx context.Context, page *discussionSvc.WindowPage) error {
	ids := make([]string, len(page.Items))
	for i, item := range page.Items {
		ids[i] = item.ID
	}

	for i, f := range s.details.RequestMany(ids) {
		full, err := f.Wait(ctx)
		switch {
		case err == nil:
			page.Items[i].Message = full
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			// degrade to the structural form
			page.Unavailable = append(page.Unavailable, ids[i])
			s.logger.Warn("message detail unavailable", "id", ids[i], "error", err)
		}
	}
	return nil
}

// Message returns the full representation of a single message
func (s *viewService) Message(ctx context.Context, id string) (*models.Message, error) {
	coll, err := s.cache.MessageStructures().Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !coll.Has(id) {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("message %s not found", id)}
	}
	msg, err := s.details.Request(coll.Canonical(id)).Wait(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrMissingStructure) {
			// removed between the check and the request
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("message %s not found", id)}
		}
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}
	return msg, nil
}

// IdeaTree returns the idea tree in display order
func (s *viewService) IdeaTree(ctx context.Context) ([]discussionSvc.IdeaItem, error) {
	coll, err := s.cache.Ideas().Wait(ctx)
	if err != nil {
		return nil, err
	}

	ideas, version := coll.Snapshot((*models.Idea).Clone)
	lin := s.ideas.Linearize(threading.Nodes(ideas), threading.Query{
		Version: version,
		Mode:    threading.ModeThreaded,
	})

	items := make([]discussionSvc.IdeaItem, 0, lin.Len())
	for _, id := range lin.Order {
		r := lin.Records[id]
		items = append(items, discussionSvc.IdeaItem{
			ID:              id,
			Level:           r.Level,
			Prefix:          lin.Prefix(id),
			DescendantCount: r.DescendantCount,
			Idea:            r.Node.(*models.Idea),
		})
	}
	return items, nil
}

// changeBuffer bounds how far a Changes consumer may lag
const changeBuffer = 64

// Changes streams message collection changes until ctx is done
func (s *viewService) Changes(ctx context.Context) (<-chan discussionSvc.ChangeNotice, error) {
	coll, err := s.cache.MessageStructures().Wait(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan discussionSvc.ChangeNotice, changeBuffer)
	var mu sync.Mutex
	closed := false

	unsubscribe := coll.Subscribe(func(ev cache.ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- discussionSvc.ChangeNotice{
			Type:    ev.Type.String(),
			ID:      ev.ID,
			OldID:   ev.OldID,
			Version: ev.Version,
		}:
		default:
			s.logger.Debug("change notice dropped", "id", ev.ID, "version", ev.Version)
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

func (s *viewService) nextGeneration(viewID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[viewID]++
	return s.generations[viewID]
}

func (s *viewService) isCurrent(viewID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[viewID] == gen
}

func windowItem(lin *threading.Linearization, r *threading.Record) discussionSvc.WindowItem {
	return discussionSvc.WindowItem{
		ID:                r.ID,
		Index:             r.Index,
		Level:             r.Level,
		Prefix:            lin.Prefix(r.ID),
		ParentID:          r.ParentID,
		ParentSkipped:     r.ParentSkipped,
		IsLastSibling:     r.IsLastSibling,
		DescendantCount:   r.DescendantCount,
		DescendantAuthors: r.Authors(),
		LastDescendantAt:  r.LastDescendantAt,
		Message:           threading.Unwrap(r.Node).(*models.Message),
	}
}

func buildFilter(req *discussionSvc.WindowRequest) threading.Filter {
	var filters []threading.Filter
	if req.AuthorID != "" {
		filters = append(filters, FilterByAuthor(req.AuthorID))
	}
	if req.Since != nil {
		filters = append(filters, FilterSince(*req.Since))
	}
	if req.HideLocal {
		filters = append(filters, FilterHideLocal())
	}
	return FilterAnd(filters...)
}

// validateWindowRequest validates a window request
func (s *viewService) validateWindowRequest(req *discussionSvc.WindowRequest) error {
	onlyOneAnchor := validation.Nil.Error("only one of start, offset and anchor_id may be set")

	return validation.ValidateStruct(req,
		validation.Field(&req.ViewID, validation.Length(0, 64)),
		validation.Field(&req.Mode, validation.In("flat", "threaded")),
		validation.Field(&req.Policy, validation.By(validatePolicy)),
		validation.Field(&req.Start, validation.Min(0)),
		validation.Field(&req.End,
			validation.When(req.Start == nil, validation.Nil.Error("end requires start")),
			validation.By(func(value interface{}) error {
				if req.Start != nil && req.End != nil && *req.End < *req.Start {
					return errors.New("must not be before start")
				}
				return nil
			}),
		),
		validation.Field(&req.Offset,
			validation.Min(0),
			validation.When(req.Start != nil || req.AnchorID != "", onlyOneAnchor),
		),
		validation.Field(&req.AnchorID,
			validation.When(req.Start != nil, validation.Empty.Error("only one of start, offset and anchor_id may be set")),
		),
		validation.Field(&req.Current, validation.By(func(value interface{}) error {
			if req.Current == nil {
				return nil
			}
			if req.Current.Start < 0 || req.Current.End < req.Current.Start-1 {
				return errors.New("must be a valid range")
			}
			return nil
		})),
		validation.Field(&req.Since, validation.By(func(value interface{}) error {
			if req.Since != nil && req.Since.After(time.Now().Add(24*time.Hour)) {
				return errors.New("must not be in the future")
			}
			return nil
		})),
	)
}

func validatePolicy(value interface{}) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	_, err := threading.ParsePolicy(name)
	return err
}
