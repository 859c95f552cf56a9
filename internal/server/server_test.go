package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/events"
	"github.com/jackzampolin/fable/internal/providers"
	"github.com/jackzampolin/fable/internal/server/endpoints"
)

type testServer struct {
	*Server
	ts     *httptest.Server
	images *providers.MockImageGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := bookstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	images := providers.NewMockImageGenerator()
	srv, err := New(Config{
		Store:  store,
		Text:   providers.NewMockTextGenerator(),
		Images: images,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: srv, ts: ts, images: images}
}

func (s *testServer) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	resp, err := http.Post(s.ts.URL+path, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(s.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func generateRequest() endpoints.GenerateRequest {
	return endpoints.GenerateRequest{
		Theme:     "a brave little fox",
		TargetAge: "preschool",
		Style:     "watercolor",
		PageCount: 3,
	}
}

func (s *testServer) submitAndWait(t *testing.T) string {
	t.Helper()
	resp, body := s.post(t, "/api/books/generate", generateRequest())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d: %s", resp.StatusCode, body)
	}
	var gen endpoints.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	s.waitForStatus(t, gen.BookID, bookstore.StatusCompleted)
	return gen.BookID
}

func (s *testServer) waitForStatus(t *testing.T, bookID string, want bookstore.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := s.get(t, "/api/books/"+bookID+"/progress")
		var snap broadcast.Snapshot
		if err := json.Unmarshal(body, &snap); err == nil && snap.Status == string(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("book %s never reached %s", bookID, want)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("health body = %s", body)
	}

	resp, _ = s.get(t, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status = %d", resp.StatusCode)
	}
}

func TestGenerateLifecycle(t *testing.T) {
	s := newTestServer(t)
	bookID := s.submitAndWait(t)

	resp, body := s.get(t, "/api/books/"+bookID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get book status = %d: %s", resp.StatusCode, body)
	}
	var detail endpoints.BookDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if detail.Status != string(bookstore.StatusCompleted) {
		t.Errorf("book status = %s", detail.Status)
	}
	if detail.Title == "" || detail.CoverImageURL == "" {
		t.Errorf("book missing generated metadata: %+v", detail.Book)
	}
	if len(detail.Pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(detail.Pages))
	}
	for _, p := range detail.Pages {
		if p.Status != string(bookstore.PageDone) || p.ImageURL == "" || p.Text == "" {
			t.Errorf("page %d incomplete: %+v", p.PageNumber, p)
		}
	}

	// The book shows up in the listing.
	resp, body = s.get(t, "/api/books")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list endpoints.ListBooksResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Books) != 1 || list.Books[0].ID != bookID {
		t.Errorf("list = %+v", list)
	}
}

func TestGenerateValidation(t *testing.T) {
	s := newTestServer(t)

	req := generateRequest()
	req.PageCount = 500
	resp, body := s.post(t, "/api/books/generate", req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized request status = %d: %s", resp.StatusCode, body)
	}

	raw, err := http.Post(s.ts.URL+"/api/books/generate", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("POST malformed body: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", raw.StatusCode)
	}
}

func TestRegenerateConflicts(t *testing.T) {
	s := newTestServer(t)
	bookID := s.submitAndWait(t)

	// Completed books refuse regeneration.
	resp, body := s.post(t, "/api/books/"+bookID+"/generate", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("regenerate completed status = %d: %s", resp.StatusCode, body)
	}

	resp, _ = s.post(t, "/api/books/no-such-book/generate", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("regenerate unknown status = %d", resp.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.images.Latency = 50 * time.Millisecond

	resp, body := s.post(t, "/api/books/generate", generateRequest())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen endpoints.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	resp, body = s.post(t, "/api/books/"+gen.BookID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	var cancel endpoints.CancelResponse
	if err := json.Unmarshal(body, &cancel); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	if !cancel.Cancelled {
		t.Error("cancel found no live job")
	}

	s.waitForStatus(t, gen.BookID, bookstore.StatusFailed)

	// Cancelling a book with no live job reports cancelled=false.
	_, body = s.post(t, "/api/books/"+gen.BookID+"/cancel", nil)
	if err := json.Unmarshal(body, &cancel); err != nil {
		t.Fatalf("decode cancel: %v", err)
	}
	if cancel.Cancelled {
		t.Error("cancel of idle book reported a live job")
	}
}

func TestExportCompletedBook(t *testing.T) {
	s := newTestServer(t)

	// Image host standing in for the generation provider's result URLs.
	imgHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-" + r.URL.Path))
	}))
	t.Cleanup(imgHost.Close)

	ctx := context.Background()
	book, err := s.Store().CreateBook(ctx, bookstore.NewBook{
		ID:             "export-book",
		Theme:          "sharing",
		TargetAge:      "preschool",
		Style:          "watercolor",
		RequestedPages: 2,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := s.Store().UpsertPages(ctx, book.ID, []bookstore.NewPage{
		{PageNumber: 1, TextContent: "Once there was a fox."},
		{PageNumber: 2, TextContent: "The end."},
	}); err != nil {
		t.Fatalf("upsert pages: %v", err)
	}
	for n := 1; n <= 2; n++ {
		if err := s.Store().UpdatePageImage(ctx, book.ID, n, fmt.Sprintf("%s/page-%d.png", imgHost.URL, n)); err != nil {
			t.Fatalf("set page image: %v", err)
		}
	}
	if err := s.Store().SetTitleAndDescription(ctx, book.ID, "The Sharing Fox", "A fox learns to share."); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if err := s.Store().UpdateBookStatus(ctx, book.ID, bookstore.StatusCompleted, ""); err != nil {
		t.Fatalf("complete book: %v", err)
	}

	resp, body := s.get(t, "/api/books/"+book.ID+"/export")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/epub+zip" {
		t.Errorf("export content type = %q", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("export is not a valid zip: %v", err)
	}
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{
		"mimetype",
		"OEBPS/content.opf",
		"OEBPS/pages/page_0001.xhtml",
		"OEBPS/images/page_0002.png",
	} {
		if !names[want] {
			t.Errorf("export missing %s", want)
		}
	}
}

func TestExportRequiresCompletedBook(t *testing.T) {
	s := newTestServer(t)
	s.images.Latency = 100 * time.Millisecond

	resp, body := s.post(t, "/api/books/generate", generateRequest())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen endpoints.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, _ = s.get(t, "/api/books/"+gen.BookID+"/export")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("export of in-flight book status = %d, want 409", resp.StatusCode)
	}

	resp, _ = s.get(t, "/api/books/no-such-book/export")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("export unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestProgressUnknownBook(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.get(t, "/api/books/no-such-book/progress")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("progress unknown status = %d", resp.StatusCode)
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	s.images.Latency = 40 * time.Millisecond

	resp, body := s.post(t, "/api/books/generate", generateRequest())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen endpoints.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/" + gen.BookID
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	var types []events.Type
	sawTerminal := false
	deadline := time.Now().Add(5 * time.Second)
	for !sawTerminal && time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read ws message: %v (got %v so far)", err, types)
		}
		ev, err := events.Decode(data)
		if err != nil {
			t.Fatalf("decode ws event %q: %v", data, err)
		}
		types = append(types, ev.EventType())
		sawTerminal = events.Terminal(ev)
	}

	if !sawTerminal {
		t.Fatalf("no terminal event; got %v", types)
	}
	if types[0] != events.TypeStatusUpdate {
		t.Errorf("first event = %s, want status_update", types[0])
	}
	if types[len(types)-1] != events.TypeGenerationCompleted {
		t.Errorf("last event = %s, want generation_completed", types[len(types)-1])
	}

	// The server closes the stream after the terminal event.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection close after terminal event")
	}
}

func TestWatchCounterNeverRegresses(t *testing.T) {
	s := newTestServer(t)
	bus := s.Broadcaster()

	book, err := s.Store().CreateBook(context.Background(), bookstore.NewBook{
		ID: "watch-monotonic", Theme: "space", TargetAge: "preschool", Style: "cartoon", RequestedPages: 10,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := s.Store().UpdateBookStatus(context.Background(), book.ID, bookstore.StatusGeneratingImages, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// Publish progress while the handshake is in flight so some updates
	// land between the handler's subscribe and its snapshot read. The
	// stream must fold those into the first message, never replay them.
	go func() {
		for i := 0; i <= 10; i++ {
			bus.Publish(events.NewStatusUpdate(book.ID, string(bookstore.StatusGeneratingImages),
				string(bookstore.StatusGeneratingImages), i, 10))
			time.Sleep(time.Millisecond)
		}
		bus.Publish(events.NewGenerationCompleted(book.ID, 10, 10))
	}()

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/" + book.ID
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	last := -1
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			// The server closes the stream once the job is terminal; a
			// late joiner may see only the final synthesized state.
			break
		}
		ev, err := events.Decode(data)
		if err != nil {
			t.Fatalf("decode ws event %q: %v", data, err)
		}
		if su, ok := ev.(events.StatusUpdate); ok {
			if su.CompletedPages < last {
				t.Fatalf("completed_pages regressed from %d to %d", last, su.CompletedPages)
			}
			last = su.CompletedPages
		}
		if events.Terminal(ev) {
			break
		}
	}
	if last < 0 {
		t.Fatal("no status_update observed")
	}
}

func TestWatchUnknownBook(t *testing.T) {
	s := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/no-such-book"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial to fail for unknown book")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Errorf("ws handshake status = %d, want 404", status)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func TestWatchFinishedBookClosesCleanly(t *testing.T) {
	s := newTestServer(t)
	bookID := s.submitAndWait(t)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/" + bookID
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if wsResp != nil && wsResp.Body != nil {
		wsResp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read first message: %v", err)
	}
	ev, err := events.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	su, ok := ev.(events.StatusUpdate)
	if !ok || su.Status != string(bookstore.StatusCompleted) {
		t.Fatalf("first message = %#v, want completed status_update", ev)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after final state")
	}
}

func TestStaticIndexServed(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "<title>Fable</title>") {
		t.Errorf("index body missing title: %.100s", body)
	}

	// Unknown paths fall back to the index page.
	resp, body = s.get(t, "/some/frontend/route")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fallback status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "<title>Fable</title>") {
		t.Errorf("fallback body missing index content")
	}
}

func ExampleServer_Addr() {
	srv, _ := New(Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Text:   providers.NewMockTextGenerator(),
		Images: providers.NewMockImageGenerator(),
		Store:  mustOpenMemoryStore(),
	})
	fmt.Println(srv.Addr())
	// Output: 127.0.0.1:8080
}

func mustOpenMemoryStore() *bookstore.Store {
	store, err := bookstore.Open(":memory:")
	if err != nil {
		panic(err)
	}
	return store
}
