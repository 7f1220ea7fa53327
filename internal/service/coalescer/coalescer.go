// Package coalescer batches individual full-detail message requests into a
// few bulk fetches.
package coalescer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conversa/internal/async"
	"conversa/internal/config"
	"conversa/internal/domain"
	models "conversa/internal/domain/models/discussion"
	repos "conversa/internal/domain/repositories/discussion"
	"conversa/internal/observability"
	"conversa/internal/service/cache"
)

// Store is the structural message collection the coalescer checks demand
// against and merges full-detail results into
type Store interface {
	View(id string, fn func(*models.Message)) bool
	MergeDetail(item *models.Message) cache.ChangeType
}

// Config tunes batching
type Config struct {
	// Threshold is the number of not-yet-sent ids that forces an immediate flush
	Threshold int
	// Lifetime is how long the worker waits for more demand before flushing
	Lifetime time.Duration
	// View is the projection requested from the bulk endpoint
	View models.ViewMode
}

// DefaultConfig returns the batching limits from the config package
func DefaultConfig() Config {
	return Config{
		Threshold: config.BatchThreshold,
		Lifetime:  config.WorkerLifetime,
		View:      models.ViewDefault,
	}
}

// Stats counts the traffic issued so far
type Stats struct {
	Batches int
	IDsSent int
	// Shared counts requests answered by a waiter another caller created
	Shared int
}

// waiter is the single pending handle of one id; repeated requests for the
// id share it until it settles
type waiter struct {
	future   *async.Future[*models.Message]
	inFlight bool
}

// Coalescer accumulates per-message demand and flushes it as bulk fetches.
// Every requested id is settled exactly once, with the message or an error.
type Coalescer struct {
	source repos.MessageDetailSource
	store  Store
	cfg    Config
	sink   observability.Sink
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*waiter
	unsent  []string
	worker  *time.Timer
	// workerGen identifies the current worker; a timer that fires after it
	// was replaced finds a newer generation and does nothing
	workerGen uint64
	closed    bool
	stats     Stats
}

// New creates a coalescer fetching from source and merging into store
func New(source repos.MessageDetailSource, store Store, cfg Config, sink observability.Sink, logger *slog.Logger) *Coalescer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = config.BatchThreshold
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = config.WorkerLifetime
	}
	if cfg.View == "" {
		cfg.View = models.ViewDefault
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		source:  source,
		store:   store,
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*waiter),
	}
}

// Request returns the handle of the full-detail message id. Messages already
// held in full resolve immediately; unknown ids fail fast.
func (c *Coalescer) Request(id string) *async.Future[*models.Message] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return async.Rejected[*models.Message](domain.ErrClosed)
	}
	if w, ok := c.pending[id]; ok {
		c.stats.Shared++
		c.mu.Unlock()
		return w.future
	}

	var full *models.Message
	ok := c.store.View(id, func(m *models.Message) {
		if m.IsFull() {
			full = m.Clone()
		}
	})
	if !ok {
		c.mu.Unlock()
		return async.Rejected[*models.Message](fmt.Errorf("%w: %s", domain.ErrMissingStructure, id))
	}
	if full != nil {
		c.mu.Unlock()
		return async.Resolved(full)
	}

	w := &waiter{future: async.New[*models.Message]()}
	c.pending[id] = w
	c.unsent = append(c.unsent, id)

	var batch []string
	if len(c.unsent) >= c.cfg.Threshold {
		batch = c.takeUnsentLocked()
	} else if c.worker == nil {
		c.workerGen++
		gen := c.workerGen
		c.worker = time.AfterFunc(c.cfg.Lifetime, func() { c.workerFired(gen) })
	}
	c.mu.Unlock()

	if batch != nil {
		c.send(batch)
	}
	return w.future
}

// RequestMany requests every id and returns the handles in the same order
func (c *Coalescer) RequestMany(ids []string) []*async.Future[*models.Message] {
	futures := make([]*async.Future[*models.Message], len(ids))
	for i, id := range ids {
		futures[i] = c.Request(id)
	}
	return futures
}

// Flush sends whatever is queued without waiting for the worker
func (c *Coalescer) Flush() {
	c.mu.Lock()
	batch := c.takeUnsentLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.send(batch)
	}
}

// Close stops the worker, rejects queued demand and waits for in-flight batches
func (c *Coalescer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.worker != nil {
		c.worker.Stop()
		c.worker = nil
	}
	var dropped []*waiter
	for _, id := range c.unsent {
		if w, ok := c.pending[id]; ok {
			dropped = append(dropped, w)
			delete(c.pending, id)
		}
	}
	c.unsent = nil
	c.mu.Unlock()

	for _, w := range dropped {
		w.future.Reject(domain.ErrClosed)
	}
	c.cancel()
	c.wg.Wait()
}

// Stats returns a snapshot of the traffic counters
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Pending returns the number of ids awaiting resolution
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) workerFired(gen uint64) {
	c.mu.Lock()
	if c.worker == nil || gen != c.workerGen {
		c.mu.Unlock()
		return
	}
	c.worker = nil
	batch := c.takeUnsentLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.send(batch)
	}
}

// takeUnsentLocked marks the queued ids in flight and tears the worker down
func (c *Coalescer) takeUnsentLocked() []string {
	if c.worker != nil {
		c.worker.Stop()
		c.worker = nil
	}
	if len(c.unsent) == 0 {
		return nil
	}
	batch := c.unsent
	c.unsent = nil
	for _, id := range batch {
		c.pending[id].inFlight = true
	}
	c.stats.Batches++
	c.stats.IDsSent += len(batch)
	return batch
}

func (c *Coalescer) send(batch []string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		start := time.Now()
		items, err := c.source.FetchMessagesByIDs(c.ctx, batch, c.cfg.View)
		c.logger.Debug("message batch fetched",
			"requested", len(batch),
			"returned", len(items),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if err != nil {
			c.fail(batch, err)
			return
		}
		c.settle(batch, items)
	}()
}

func (c *Coalescer) fail(batch []string, err error) {
	c.sink.FetchFailed(c.ctx, "message_batch", err)
	fetchErr := &domain.FetchError{Source: "message_batch", Err: err}
	for _, w := range c.takeWaiters(batch) {
		w.future.Reject(fetchErr)
	}
}

func (c *Coalescer) settle(batch []string, items []*models.Message) {
	inBatch := make(map[string]bool, len(batch))
	for _, id := range batch {
		inBatch[id] = true
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if !inBatch[item.ID] {
			c.sink.LostRace(c.ctx, "message_batch", item.ID)
			continue
		}
		inBatch[item.ID] = false

		c.mu.Lock()
		w, ok := c.pending[item.ID]
		delete(c.pending, item.ID)
		c.mu.Unlock()
		if !ok {
			c.sink.LostRace(c.ctx, "message_batch", item.ID)
			continue
		}

		item.Detail = models.DetailFull
		// the store keeps its own copy; waiters own item
		c.store.MergeDetail(item.Clone())
		w.future.Resolve(item)
	}

	var missing []string
	for id, outstanding := range inBatch {
		if outstanding {
			missing = append(missing, id)
		}
	}
	for _, id := range missing {
		c.sink.InvariantViolated(c.ctx, "id missing from batch response", "id", id)
		for _, w := range c.takeWaiters([]string{id}) {
			w.future.Reject(fmt.Errorf("%w: %s", domain.ErrNotReturned, id))
		}
	}
}

func (c *Coalescer) takeWaiters(ids []string) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*waiter, 0, len(ids))
	for _, id := range ids {
		if w, ok := c.pending[id]; ok {
			out = append(out, w)
			delete(c.pending, id)
		}
	}
	return out
}
