package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/events"
	"github.com/jackzampolin/fable/internal/providers"
)

// collector drains one subscriber into an in-memory slice for assertions.
type collector struct {
	mu  sync.Mutex
	evs []events.Event
	sub *broadcast.Subscriber
	wg  sync.WaitGroup
}

func collect(b *broadcast.Broadcaster, bookID string) *collector {
	c := &collector{sub: b.Subscribe(bookID)}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ev := range c.sub.Events() {
			c.mu.Lock()
			c.evs = append(c.evs, ev)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) stop(b *broadcast.Broadcaster) []events.Event {
	b.Unsubscribe(c.sub)
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.evs...)
}

type fixture struct {
	store  *bookstore.Store
	bus    *broadcast.Broadcaster
	text   *providers.MockTextGenerator
	images *providers.MockImageGenerator
	book   *bookstore.Book
}

func newFixture(t *testing.T, pageCount int) *fixture {
	t.Helper()
	store, err := bookstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	book, err := store.CreateBook(context.Background(), bookstore.NewBook{
		ID:             "book-test",
		Theme:          "friendship",
		TargetAge:      string(providers.AgePreschool),
		Style:          string(providers.StyleWatercolor),
		RequestedPages: pageCount,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	return &fixture{
		store:  store,
		bus:    broadcast.New(broadcast.Config{BufferSize: 256}),
		text:   providers.NewMockTextGenerator(),
		images: providers.NewMockImageGenerator(),
		book:   book,
	}
}

func (f *fixture) orchestrator(cfg Config) *Orchestrator {
	spec := Spec{
		Theme:     "friendship",
		TargetAge: providers.AgePreschool,
		Style:     providers.StyleWatercolor,
		PageCount: f.book.RequestedPages,
	}
	return New(f.book.ID, spec, f.store, f.text, f.images, f.bus, cfg, nil)
}

// fastRetry keeps backoff out of test wall time.
func fastRetry() Config {
	return Config{
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestRunCompletesBook(t *testing.T) {
	f := newFixture(t, 3)
	c := collect(f.bus, f.book.ID)

	if err := f.orchestrator(fastRetry()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := c.stop(f.bus)

	book, err := f.store.GetBook(context.Background(), f.book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Status != bookstore.StatusCompleted {
		t.Errorf("status = %s, want completed", book.Status)
	}
	if book.Title == "" || book.Description == "" {
		t.Errorf("story metadata not persisted: %+v", book)
	}
	if book.CoverImageRef == "" {
		t.Error("cover image ref not set")
	}
	if book.ErrorMessage != "" {
		t.Errorf("unexpected error message %q", book.ErrorMessage)
	}

	pages, err := f.store.GetPages(context.Background(), f.book.ID)
	if err != nil {
		t.Fatalf("get pages: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	for _, p := range pages {
		if p.Status != bookstore.PageDone || p.ImageRef == "" {
			t.Errorf("page %d: status=%s ref=%q", p.PageNumber, p.Status, p.ImageRef)
		}
	}
	if pages[0].ImageRef != book.CoverImageRef {
		t.Errorf("cover %q != page 1 image %q", book.CoverImageRef, pages[0].ImageRef)
	}

	assertSingleTerminal(t, evs, events.TypeGenerationCompleted)
	assertCounterMonotonic(t, evs)
}

func TestRunPartialImageFailure(t *testing.T) {
	f := newFixture(t, 3)
	// Page 2 fails past any retry budget; its siblings must still complete.
	f.images.FailPrompt("scene 2", 100)
	c := collect(f.bus, f.book.ID)

	err := f.orchestrator(fastRetry()).Run(context.Background())
	if err == nil {
		t.Fatal("run should report failure")
	}
	evs := c.stop(f.bus)

	book, _ := f.store.GetBook(context.Background(), f.book.ID)
	if book.Status != bookstore.StatusFailed {
		t.Errorf("status = %s, want failed", book.Status)
	}
	if !strings.Contains(book.ErrorMessage, "pages: 2") {
		t.Errorf("error message %q does not name page 2", book.ErrorMessage)
	}

	pages, _ := f.store.GetPages(context.Background(), f.book.ID)
	var done, failed int
	for _, p := range pages {
		switch p.Status {
		case bookstore.PageDone:
			done++
			if p.ImageRef == "" {
				t.Errorf("done page %d has no image ref", p.PageNumber)
			}
		case bookstore.PageFailed:
			failed++
			if p.PageNumber != 2 {
				t.Errorf("unexpected failed page %d", p.PageNumber)
			}
			if p.TextContent == "" {
				t.Errorf("failed page %d lost its text", p.PageNumber)
			}
		}
	}
	if done != 2 || failed != 1 {
		t.Errorf("done=%d failed=%d, want 2/1", done, failed)
	}

	assertSingleTerminal(t, evs, events.TypeGenerationFailed)
	assertCounterMonotonic(t, evs)
}

func TestRunTextFailurePermanent(t *testing.T) {
	f := newFixture(t, 2)
	f.text.FailAll = true
	f.text.Permanent = true
	c := collect(f.bus, f.book.ID)

	if err := f.orchestrator(fastRetry()).Run(context.Background()); err == nil {
		t.Fatal("run should report failure")
	}
	evs := c.stop(f.bus)

	// Permanent failures are not retried.
	if f.text.Calls() != 1 {
		t.Errorf("text calls = %d, want 1", f.text.Calls())
	}
	if f.images.Calls() != 0 {
		t.Errorf("image calls = %d, want 0", f.images.Calls())
	}

	book, _ := f.store.GetBook(context.Background(), f.book.ID)
	if book.Status != bookstore.StatusFailed {
		t.Errorf("status = %s, want failed", book.Status)
	}
	assertSingleTerminal(t, evs, events.TypeGenerationFailed)
}

func TestRunTextRetriesTransient(t *testing.T) {
	f := newFixture(t, 2)
	f.text.FailTimes = 2 // succeeds on the third and final attempt

	if err := f.orchestrator(fastRetry()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.text.Calls() != 3 {
		t.Errorf("text calls = %d, want 3", f.text.Calls())
	}

	book, _ := f.store.GetBook(context.Background(), f.book.ID)
	if book.Status != bookstore.StatusCompleted {
		t.Errorf("status = %s, want completed", book.Status)
	}
}

func TestRunTextRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, 2)
	f.text.FailTimes = 3 // one more than the budget allows

	if err := f.orchestrator(fastRetry()).Run(context.Background()); err == nil {
		t.Fatal("run should report failure")
	}
	if f.text.Calls() != 3 {
		t.Errorf("text calls = %d, want 3", f.text.Calls())
	}
}

func TestCancelDuringTextStage(t *testing.T) {
	f := newFixture(t, 3)
	f.text.Latency = 50 * time.Millisecond
	f.text.FailAll = true // the interrupted call surfaces its own error
	c := collect(f.bus, f.book.ID)

	o := f.orchestrator(fastRetry())
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	// Cancel while the first text call is still in flight.
	time.Sleep(20 * time.Millisecond)
	o.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("cancelled run should report failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain after cancel")
	}
	evs := c.stop(f.bus)

	book, _ := f.store.GetBook(context.Background(), f.book.ID)
	if book.Status != bookstore.StatusFailed {
		t.Errorf("status = %s, want failed", book.Status)
	}
	if book.ErrorMessage != "generation cancelled" {
		t.Errorf("error message = %q, want the cancellation reason", book.ErrorMessage)
	}
	if f.images.Calls() != 0 {
		t.Errorf("image calls = %d, want 0", f.images.Calls())
	}
	assertSingleTerminal(t, evs, events.TypeGenerationFailed)
}

func TestCancelDuringImageStage(t *testing.T) {
	f := newFixture(t, 6)
	f.images.Latency = 30 * time.Millisecond
	c := collect(f.bus, f.book.ID)

	o := f.orchestrator(Config{ImageWorkers: 1, MaxAttempts: 1})

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	// Let the first page get in flight, then cancel.
	time.Sleep(45 * time.Millisecond)
	o.Cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("cancelled run should report failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain after cancel")
	}
	evs := c.stop(f.bus)

	book, _ := f.store.GetBook(context.Background(), f.book.ID)
	if book.Status != bookstore.StatusFailed {
		t.Errorf("status = %s, want failed", book.Status)
	}
	if !strings.Contains(book.ErrorMessage, "cancelled") {
		t.Errorf("error message %q does not mention cancellation", book.ErrorMessage)
	}
	if f.images.Calls() >= 6 {
		t.Errorf("all %d pages dispatched despite cancel", f.images.Calls())
	}
	assertSingleTerminal(t, evs, events.TypeGenerationFailed)
}

func TestRunEventSequence(t *testing.T) {
	f := newFixture(t, 2)
	c := collect(f.bus, f.book.ID)

	if err := f.orchestrator(fastRetry()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	evs := c.stop(f.bus)

	if len(evs) == 0 {
		t.Fatal("no events observed")
	}
	first, ok := evs[0].(events.StatusUpdate)
	if !ok || first.Status != string(bookstore.StatusGeneratingText) {
		t.Errorf("first event = %#v, want generating_text status update", evs[0])
	}
	last := evs[len(evs)-1]
	if last.EventType() != events.TypeGenerationCompleted {
		t.Errorf("last event = %s, want generation_completed", last.EventType())
	}

	// Every page_completed is followed by a status_update whose counter
	// accounts for it.
	var pageDone int
	for i, ev := range evs {
		pc, ok := ev.(events.PageCompleted)
		if !ok {
			continue
		}
		pageDone++
		if i+1 >= len(evs) {
			t.Fatalf("page_completed for page %d not followed by status_update", pc.PageNumber)
		}
		su, ok := evs[i+1].(events.StatusUpdate)
		if !ok {
			t.Fatalf("event after page_completed is %s", evs[i+1].EventType())
		}
		if su.CompletedPages < pageDone {
			t.Errorf("status after page %d reports %d completed", pc.PageNumber, su.CompletedPages)
		}
	}
	if pageDone != 2 {
		t.Errorf("saw %d page_completed events, want 2", pageDone)
	}
}

func TestImageWorkerPoolIsBounded(t *testing.T) {
	f := newFixture(t, 8)

	var mu sync.Mutex
	inflight, peak := 0, 0
	gate := &gatedImages{
		inner: f.images,
		enter: func() {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()
		},
		exit: func() {
			mu.Lock()
			inflight--
			mu.Unlock()
		},
	}
	f.images.Latency = 10 * time.Millisecond

	spec := Spec{Theme: "t", TargetAge: providers.AgePreschool, Style: providers.StyleCartoon, PageCount: 8}
	o := New(f.book.ID, spec, f.store, f.text, gate, f.bus, Config{ImageWorkers: 2, MaxAttempts: 1}, nil)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrent image calls = %d, want <= 2", peak)
	}
}

type gatedImages struct {
	inner providers.ImageGenerator
	enter func()
	exit  func()
}

func (g *gatedImages) Name() string { return g.inner.Name() }

func (g *gatedImages) GenerateImage(ctx context.Context, prompt string, style providers.ArtStyle) (string, error) {
	g.enter()
	defer g.exit()
	return g.inner.GenerateImage(ctx, prompt, style)
}

func assertSingleTerminal(t *testing.T, evs []events.Event, want events.Type) {
	t.Helper()
	var terminals []events.Type
	for _, ev := range evs {
		if events.Terminal(ev) {
			terminals = append(terminals, ev.EventType())
		}
	}
	if len(terminals) != 1 || terminals[0] != want {
		t.Errorf("terminal events = %v, want exactly one %s", terminals, want)
	}
	if len(evs) > 0 && !events.Terminal(evs[len(evs)-1]) {
		t.Errorf("last event %s is not terminal", evs[len(evs)-1].EventType())
	}
}

func assertCounterMonotonic(t *testing.T, evs []events.Event) {
	t.Helper()
	last := -1
	for _, ev := range evs {
		su, ok := ev.(events.StatusUpdate)
		if !ok {
			continue
		}
		if su.Stage == string(bookstore.StatusGeneratingText) {
			continue
		}
		if su.CompletedPages < last {
			t.Errorf("completed counter regressed from %d to %d", last, su.CompletedPages)
		}
		last = su.CompletedPages
	}
}
