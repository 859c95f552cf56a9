// Package dispatcher admits generation jobs and enforces at most one live
// job per book. It owns job lifecycles from admission to terminal state and
// sweeps orphaned jobs after a restart.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/orchestrator"
	"github.com/jackzampolin/fable/internal/providers"
)

var (
	// ErrAlreadyRunning means a live job exists for the book.
	ErrAlreadyRunning = errors.New("generation already in progress")

	// ErrAlreadyCompleted means the book finished successfully and will not
	// be regenerated. Failed books may be resubmitted.
	ErrAlreadyCompleted = errors.New("book already completed")

	// ErrInvalidSpec means the request failed validation before admission.
	ErrInvalidSpec = errors.New("invalid generation request")
)

// Limits bounds what a generation request may ask for.
type Limits struct {
	MinPages int // default 1
	MaxPages int // default 20
}

func (l Limits) withDefaults() Limits {
	if l.MinPages <= 0 {
		l.MinPages = 1
	}
	if l.MaxPages <= 0 {
		l.MaxPages = 20
	}
	return l
}

// Dispatcher admits and tracks generation jobs.
type Dispatcher struct {
	store  *bookstore.Store
	text   providers.TextGenerator
	images providers.ImageGenerator
	bus    *broadcast.Broadcaster
	jobCfg orchestrator.Config
	limits Limits
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job // bookID -> live job
}

type job struct {
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Dispatcher.
func New(store *bookstore.Store, text providers.TextGenerator, images providers.ImageGenerator,
	bus *broadcast.Broadcaster, jobCfg orchestrator.Config, limits Limits, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		text:   text,
		images: images,
		bus:    bus,
		jobCfg: jobCfg,
		limits: limits.withDefaults(),
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Validate checks a spec against the admission limits without starting
// anything.
func (d *Dispatcher) Validate(spec orchestrator.Spec) error {
	if spec.PageCount < d.limits.MinPages || spec.PageCount > d.limits.MaxPages {
		return fmt.Errorf("%w: page_count %d outside [%d, %d]",
			ErrInvalidSpec, spec.PageCount, d.limits.MinPages, d.limits.MaxPages)
	}
	if spec.Theme == "" {
		return fmt.Errorf("%w: theme is required", ErrInvalidSpec)
	}
	if !providers.ValidAgeGroup(string(spec.TargetAge)) {
		return fmt.Errorf("%w: unknown target_age %q", ErrInvalidSpec, spec.TargetAge)
	}
	if !providers.ValidArtStyle(string(spec.Style)) {
		return fmt.Errorf("%w: unknown style %q", ErrInvalidSpec, spec.Style)
	}
	return nil
}

// CreateAndStart creates a new book record and starts its generation job.
func (d *Dispatcher) CreateAndStart(ctx context.Context, spec orchestrator.Spec) (*bookstore.Book, error) {
	if err := d.Validate(spec); err != nil {
		return nil, err
	}

	book, err := d.store.CreateBook(ctx, bookstore.NewBook{
		ID:             uuid.NewString(),
		Title:          spec.Title,
		Theme:          spec.Theme,
		TargetAge:      string(spec.TargetAge),
		Style:          string(spec.Style),
		RequestedPages: spec.PageCount,
	})
	if err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}

	if err := d.RequestStart(ctx, book.ID, spec); err != nil {
		return nil, err
	}
	return book, nil
}

// RequestStart admits a generation job for an existing book. Exactly one
// caller wins when several race on the same book; the rest get
// ErrAlreadyRunning. Completed books are refused; failed books start fresh.
func (d *Dispatcher) RequestStart(ctx context.Context, bookID string, spec orchestrator.Spec) error {
	if err := d.Validate(spec); err != nil {
		return err
	}

	// The status read shares the admission critical section. A live job
	// writes its terminal status before releasing the slot, so under d.mu
	// an empty slot guarantees the read sees the final state; checked
	// outside the lock, a racing finish could readmit a completed book.
	d.mu.Lock()
	if _, live := d.jobs[bookID]; live {
		d.mu.Unlock()
		return fmt.Errorf("book %s: %w", bookID, ErrAlreadyRunning)
	}

	book, err := d.store.GetBook(ctx, bookID)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if book.Status == bookstore.StatusCompleted {
		d.mu.Unlock()
		return fmt.Errorf("book %s: %w", bookID, ErrAlreadyCompleted)
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		orch:   orchestrator.New(bookID, spec, d.store, d.text, d.images, d.bus, d.jobCfg, d.logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.jobs[bookID] = j
	d.mu.Unlock()

	go d.runJob(jobCtx, bookID, j)
	return nil
}

// runJob drives one admitted job to its terminal state, then releases the
// book's slot.
func (d *Dispatcher) runJob(ctx context.Context, bookID string, j *job) {
	defer close(j.done)
	defer func() {
		d.mu.Lock()
		delete(d.jobs, bookID)
		d.mu.Unlock()
		j.cancel()
	}()

	if err := j.orch.Run(ctx); err != nil {
		d.logger.Warn("generation job ended in failure", "book_id", bookID, "error", err)
	}
}

// Cancel requests cooperative cancellation of a book's live job. A no-op for
// unknown books and books with no live job.
func (d *Dispatcher) Cancel(bookID string) bool {
	d.mu.Lock()
	j, live := d.jobs[bookID]
	d.mu.Unlock()

	if !live {
		return false
	}
	d.logger.Info("cancelling generation job", "book_id", bookID)
	j.orch.Cancel()
	return true
}

// Running reports whether a live job exists for the book.
func (d *Dispatcher) Running(bookID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, live := d.jobs[bookID]
	return live
}

// SweepInterrupted fails every book a previous process left mid-generation.
// Call once at startup, before serving requests.
func (d *Dispatcher) SweepInterrupted(ctx context.Context) error {
	n, err := d.store.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("sweep interrupted books: %w", err)
	}
	if n > 0 {
		d.logger.Info("swept interrupted generation jobs", "count", n)
	}
	return nil
}

// Shutdown cancels all live jobs and waits for them to drain, or until ctx
// expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	jobs := make([]*job, 0, len(d.jobs))
	for _, j := range d.jobs {
		j.orch.Cancel()
		jobs = append(jobs, j)
	}
	d.mu.Unlock()

	for _, j := range jobs {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
