// Package orchestrator runs one book generation job: the text stage, the
// fanned-out image stage, and the status writes and progress events that
// keep the store and subscribers consistent with in-flight work.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/events"
	"github.com/jackzampolin/fable/internal/providers"
)

// Spec describes one generation request.
type Spec struct {
	Title        string             `json:"title,omitempty"`
	Theme        string             `json:"theme"`
	Keywords     []string           `json:"keywords,omitempty"`
	TargetAge    providers.AgeGroup `json:"target_age"`
	Style        providers.ArtStyle `json:"style"`
	PageCount    int                `json:"page_count"`
	CustomPrompt string             `json:"custom_prompt,omitempty"`
}

// Config tunes a job's concurrency and retry policy.
type Config struct {
	// ImageWorkers bounds concurrent image calls per job (default 3).
	// A fixed ceiling, never derived from page count.
	ImageWorkers int

	// MaxAttempts bounds attempts per external call (default 3).
	MaxAttempts uint

	// RetryBaseDelay is the delay before the second attempt; subsequent
	// delays double (default 2s).
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff growth (default 30s).
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ImageWorkers <= 0 {
		c.ImageWorkers = 3
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	return c
}

// Orchestrator owns the state machine for one book's generation job.
type Orchestrator struct {
	bookID string
	spec   Spec
	cfg    Config

	store  *bookstore.Store
	text   providers.TextGenerator
	images providers.ImageGenerator
	bus    *broadcast.Broadcaster
	logger *slog.Logger

	cancelled atomic.Bool

	// mu orders the completed counter and event emission across page
	// workers. Never held across a store write or an external call.
	mu          sync.Mutex
	completed   int
	failedPages []int
	coverRef    string
}

// New creates an orchestrator for one book. The caller (the dispatcher)
// guarantees at most one live orchestrator per book id.
func New(bookID string, spec Spec, store *bookstore.Store, text providers.TextGenerator,
	images providers.ImageGenerator, bus *broadcast.Broadcaster, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		bookID: bookID,
		spec:   spec,
		cfg:    cfg.withDefaults(),
		store:  store,
		text:   text,
		images: images,
		bus:    bus,
		logger: logger.With("book_id", bookID),
	}
}

// Cancel requests cooperative cancellation: in-flight calls finish, no new
// page calls are dispatched, and the job drains to a failed terminal state.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Run executes the job to a terminal state. It always writes exactly one
// terminal status and emits exactly one terminal event.
func (o *Orchestrator) Run(ctx context.Context) error {
	total := o.spec.PageCount
	o.logger.Info("generation job started", "pages", total, "style", o.spec.Style)

	// Text stage.
	if err := o.store.UpdateBookStatus(ctx, o.bookID, bookstore.StatusGeneratingText, ""); err != nil {
		return o.fail(ctx, fmt.Sprintf("update status: %v", err))
	}
	o.bus.Publish(events.NewStatusUpdate(o.bookID, string(bookstore.StatusGeneratingText),
		string(bookstore.StatusGeneratingText), 0, total))

	draft, err := o.generateStory(ctx)
	if err != nil {
		// A cancel stops the retry loop but the interrupted call's own
		// error surfaces; the recorded reason is the cancellation.
		if o.cancelled.Load() {
			return o.fail(ctx, "generation cancelled")
		}
		o.logger.Error("text stage failed", "error", err)
		return o.fail(ctx, fmt.Sprintf("story generation failed: %v", err))
	}

	if err := o.persistDraft(ctx, draft); err != nil {
		return o.fail(ctx, fmt.Sprintf("persist story: %v", err))
	}
	o.logger.Info("text stage completed", "title", draft.Title)

	if o.cancelled.Load() {
		return o.fail(ctx, "generation cancelled")
	}

	// Image stage.
	if err := o.store.UpdateBookStatus(ctx, o.bookID, bookstore.StatusGeneratingImages, ""); err != nil {
		return o.fail(ctx, fmt.Sprintf("update status: %v", err))
	}
	o.bus.Publish(events.NewStatusUpdate(o.bookID, string(bookstore.StatusGeneratingImages),
		string(bookstore.StatusGeneratingImages), 0, total))

	o.runImageStage(ctx, draft.Pages)

	// Terminal decision.
	if o.cancelled.Load() {
		return o.fail(ctx, "generation cancelled")
	}

	o.mu.Lock()
	failed := append([]int(nil), o.failedPages...)
	completed := o.completed
	cover := o.coverRef
	o.mu.Unlock()

	if len(failed) > 0 {
		sort.Ints(failed)
		return o.fail(ctx, fmt.Sprintf("image generation failed for pages: %s", joinInts(failed)))
	}

	if cover != "" {
		if err := o.store.SetCover(ctx, o.bookID, cover); err != nil {
			o.logger.Warn("set cover failed", "error", err)
		}
	}
	if err := o.store.UpdateBookStatus(ctx, o.bookID, bookstore.StatusCompleted, ""); err != nil {
		return o.fail(ctx, fmt.Sprintf("update status: %v", err))
	}
	o.bus.Publish(events.NewGenerationCompleted(o.bookID, completed, total))
	o.logger.Info("generation job completed", "pages", completed)
	return nil
}

// generateStory runs the single whole-book text call under the retry policy.
func (o *Orchestrator) generateStory(ctx context.Context) (*providers.StoryDraft, error) {
	var draft *providers.StoryDraft
	err := o.withRetry(ctx, "generate_story", func() error {
		var err error
		draft, err = o.text.GenerateStory(ctx, &providers.StoryRequest{
			Theme:        o.spec.Theme,
			Keywords:     o.spec.Keywords,
			TargetAge:    o.spec.TargetAge,
			PageCount:    o.spec.PageCount,
			CustomPrompt: o.spec.CustomPrompt,
		})
		return err
	})
	return draft, err
}

func (o *Orchestrator) persistDraft(ctx context.Context, draft *providers.StoryDraft) error {
	pages := make([]bookstore.NewPage, 0, len(draft.Pages))
	for _, p := range draft.Pages {
		pages = append(pages, bookstore.NewPage{
			PageNumber:       p.PageNumber,
			TextContent:      p.Text,
			SceneDescription: p.SceneDescription,
			ImagePrompt:      p.ImagePrompt,
		})
	}
	if err := o.store.UpsertPages(ctx, o.bookID, pages); err != nil {
		return err
	}
	return o.store.SetTitleAndDescription(ctx, o.bookID, draft.Title, draft.Description)
}

// runImageStage drains all pages through a fixed worker pool. Page failures
// are isolated: siblings keep going, and every dispatched page reaches a
// terminal per-page state before this returns.
func (o *Orchestrator) runImageStage(ctx context.Context, pages []providers.StoryPage) {
	work := make(chan providers.StoryPage)
	var wg sync.WaitGroup

	workers := o.cfg.ImageWorkers
	if workers > len(pages) {
		workers = len(pages)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range work {
				o.generatePageImage(ctx, page, len(pages))
			}
		}()
	}

	for _, page := range pages {
		// Cooperative cancellation: nothing new is dispatched, in-flight
		// pages drain on their own.
		if o.cancelled.Load() || ctx.Err() != nil {
			break
		}
		work <- page
	}
	close(work)
	wg.Wait()
}

// generatePageImage runs one page's image call under the retry policy and
// records its terminal per-page state.
func (o *Orchestrator) generatePageImage(ctx context.Context, page providers.StoryPage, total int) {
	logger := o.logger.With("page", page.PageNumber)

	if err := o.store.MarkPageGenerating(ctx, o.bookID, page.PageNumber); err != nil {
		logger.Warn("mark page generating failed", "error", err)
	}

	var imageRef string
	err := o.withRetry(ctx, "generate_image", func() error {
		ref, err := o.images.GenerateImage(ctx, page.ImagePrompt, o.spec.Style)
		if err != nil {
			return err
		}
		imageRef = ref
		return nil
	})

	if err != nil {
		logger.Warn("page image failed", "error", err)
		reason := fmt.Sprintf("image generation failed: %v", err)
		if storeErr := o.store.UpdatePageFailure(ctx, o.bookID, page.PageNumber, reason); storeErr != nil {
			logger.Error("record page failure", "error", storeErr)
		}
		o.finishPage(page.PageNumber, "", reason, total)
		return
	}

	if storeErr := o.store.UpdatePageImage(ctx, o.bookID, page.PageNumber, imageRef); storeErr != nil {
		logger.Error("record page image", "error", storeErr)
	}
	o.finishPage(page.PageNumber, imageRef, "", total)
}

// finishPage advances the shared counter and emits the page's events. The
// lock also serializes emission so subscribers see one coherent order.
func (o *Orchestrator) finishPage(pageNumber int, imageRef, failReason string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completed++
	if failReason != "" {
		o.failedPages = append(o.failedPages, pageNumber)
		o.bus.Publish(events.NewPageFailed(o.bookID, pageNumber, failReason))
	} else {
		if pageNumber == 1 {
			o.coverRef = imageRef
		}
		o.bus.Publish(events.NewPageCompleted(o.bookID, pageNumber, imageRef))
	}
	o.bus.Publish(events.NewStatusUpdate(o.bookID, string(bookstore.StatusGeneratingImages),
		string(bookstore.StatusGeneratingImages), o.completed, total))
}

// fail moves the book to the failed terminal state and emits the terminal
// event. Completed pages and their image refs are retained.
func (o *Orchestrator) fail(ctx context.Context, reason string) error {
	if err := o.store.UpdateBookStatus(ctx, o.bookID, bookstore.StatusFailed, reason); err != nil {
		o.logger.Error("record failure status", "error", err)
	}
	o.bus.Publish(events.NewGenerationFailed(o.bookID, reason))
	o.logger.Info("generation job failed", "reason", reason)
	return fmt.Errorf("generation failed: %s", reason)
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
