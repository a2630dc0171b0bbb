// Package commitcoord implements the commit coordinator of spec.md §4.D: on
// local backends that benefit from write batching, it funnels concurrent
// commits through a serial goroutine that collects them into batches. Each
// submission in a batch is applied by its own apply call, one after
// another; the batch is not merged into a single backend write.
//
// The batching/drain-then-wait shape is grounded on the teacher's
// migrations.Migrator.Apply loop (_examples/3esmit-turbo-geth/migrations/migrations.go),
// which serially drains a list of pending units of work and logs progress
// with github.com/ethereum/go-ethereum/log the same way this package does;
// the bounded-queue + timeout pattern mirrors
// cmd/headers/download/downloader.go's use of timers to bound how long a
// loop waits for more work before proceeding with what it has.
package commitcoord

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/surrealdb/surreal-core/kvstore"
)

// Default thresholds (spec.md §4.D).
const (
	DefaultTimeout       = 5 * time.Millisecond
	DefaultWaitThreshold = 12
	DefaultMaxBatch      = 4096
)

// Config tunes the coordinator; zero values fall back to the spec.md §4.D
// defaults.
type Config struct {
	Timeout       time.Duration
	WaitThreshold int
	MaxBatch      int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.WaitThreshold <= 0 {
		c.WaitThreshold = DefaultWaitThreshold
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	return c
}

// submission is one transaction's write set queued for grouped commit.
type submission struct {
	writes []kvstore.WriteOp
	apply  func([]kvstore.WriteOp) error // backend-specific batch writer
	done   chan error
}

// Coordinator owns a bounded queue and a single draining goroutine so
// commit order in the queue equals commit-visible order (spec.md §8
// invariant 6).
type Coordinator struct {
	cfg    Config
	queue  chan submission
	log    log.Logger
	closed chan struct{}
}

// New starts a Coordinator's drain loop. Callers must call Close on
// shutdown.
func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:    cfg,
		queue:  make(chan submission, cfg.MaxBatch),
		log:    log.New("component", "commitcoord"),
		closed: make(chan struct{}),
	}
	go c.run()
	return c
}

// Submit enqueues a transaction's write set and blocks until the
// coordinator has applied (or rejected) the batch containing it. A write
// conflict detected for this submission alone (backend-specific, surfaced
// through apply's error) fails only this caller — spec.md §4.D: "others in
// the batch proceed".
func (c *Coordinator) Submit(ctx context.Context, writes []kvstore.WriteOp, apply func([]kvstore.WriteOp) error) error {
	done := make(chan error, 1)
	sub := submission{writes: writes, apply: apply, done: done}
	select {
	case c.queue <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return context.Canceled
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) Close() {
	close(c.closed)
}

// run is the single serial drain loop: drains up to MaxBatch, waits for
// more only once the batch has reached WaitThreshold, calls each
// submission's apply in turn and signals its submitter (spec.md §4.D
// algorithm, steps 1-4).
func (c *Coordinator) run() {
	for {
		var batch []submission
		select {
		case first := <-c.queue:
			batch = append(batch, first)
		case <-c.closed:
			return
		}

		batch = c.drain(batch)
		c.log.Debug("applying grouped commit", "submissions", len(batch))

		// A write conflict on one submission's apply fails only that
		// submission; the rest of the batch still proceeds (spec.md §4.D:
		// "A write conflict ... fails only that transaction; others in the
		// batch proceed").
		for _, s := range batch {
			s.done <- s.apply(s.writes)
		}
	}
}

// drain pulls up to cfg.MaxBatch total items; if the batch so far is
// between WaitThreshold and MaxBatch, it waits up to cfg.Timeout for more
// to arrive before proceeding with what it has (spec.md §4.D step 2).
func (c *Coordinator) drain(batch []submission) []submission {
	for len(batch) < c.cfg.MaxBatch {
		if len(batch) >= c.cfg.WaitThreshold {
			timer := time.NewTimer(c.cfg.Timeout)
			select {
			case next := <-c.queue:
				timer.Stop()
				batch = append(batch, next)
			case <-timer.C:
				return batch
			case <-c.closed:
				timer.Stop()
				return batch
			}
			continue
		}
		select {
		case next := <-c.queue:
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}
