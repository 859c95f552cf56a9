package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/events"
	"github.com/jackzampolin/fable/internal/svcctx"
	"github.com/jackzampolin/fable/internal/wsclient"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is served without browser-facing auth; origin checks add
	// nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchEndpoint handles GET /ws/{book_id}: a live, ordered stream of a
// book's generation events over WebSocket.
type WatchEndpoint struct{}

func (e *WatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ws/{book_id}", e.handler
}

func (e *WatchEndpoint) RequiresInit() bool { return true }

func (e *WatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	store := svcctx.StoreFrom(r.Context())
	bus := svcctx.BroadcasterFrom(r.Context())
	logger := svcctx.LoggerFrom(r.Context())
	if store == nil || bus == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcaster not initialized")
		return
	}

	// Reject unknown books before upgrading.
	book, err := store.GetBook(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, bookstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	sub := bus.Subscribe(bookID)
	defer bus.Unsubscribe(sub)

	conn.SetPongHandler(func(string) error {
		sub.Touch()
		return nil
	})

	// Reader: the client never sends meaningful data, but every received
	// frame counts as liveness.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				bus.Unsubscribe(sub)
				return
			}
			sub.Touch()
		}
	}()

	// Late joiners get the current state as their first message. A book
	// whose job already finished gets the final state and a clean close.
	status, stage := string(book.Status), ""
	completed, total := 0, book.RequestedPages
	if snap, ok := bus.Snapshot(bookID); ok {
		status, stage = snap.Status, snap.Stage
		completed, total = snap.CompletedPages, snap.TotalPages
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(events.NewStatusUpdate(bookID, status, stage, completed, total)); err != nil {
		return
	}
	if bookstore.Status(status).Terminal() {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"))
		return
	}

	ticker := time.NewTicker(bus.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			// Events buffered between the subscribe and the snapshot read
			// are already folded into the first message; replaying their
			// counters would step progress backward.
			if su, isStatus := ev.(events.StatusUpdate); isStatus {
				if su.CompletedPages < completed {
					continue
				}
				completed = su.CompletedPages
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				if logger != nil {
					logger.Debug("websocket write failed", "book_id", bookID, "error", err)
				}
				return
			}
			if events.Terminal(ev) {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(events.NewPing(bookID)); err != nil {
				return
			}
		case <-sub.Done():
			return
		}
	}
}

func (e *WatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Stream generation progress for a book",
		Long: `Stream a book's generation events until the job finishes.

Reconnects automatically on transient connection loss. If the stream cannot
be re-established, falls back to a final progress poll.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wsURL := httpToWS(getServerURL()) + "/ws/" + args[0]
			client := wsclient.New(wsclient.Config{URL: wsURL})

			err := client.Watch(cmd.Context(), func(ev events.Event) {
				printEvent(ev)
			})
			if errors.Is(err, wsclient.ErrFallbackToPoll) {
				fmt.Println("stream lost; check progress with: fable api books progress", args[0])
				return nil
			}
			return err
		},
	}
}

func httpToWS(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return "ws://" + url
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.StatusUpdate:
		fmt.Printf("%-20s %s (%d/%d pages)\n", e.Status, e.Stage, e.CompletedPages, e.TotalPages)
	case events.PageCompleted:
		if e.Error != "" {
			fmt.Printf("page %d failed: %s\n", e.PageNumber, e.Error)
		} else {
			fmt.Printf("page %d done: %s\n", e.PageNumber, e.ImageURL)
		}
	case events.GenerationCompleted:
		fmt.Printf("completed: %d/%d pages\n", e.CompletedPages, e.TotalPages)
	case events.GenerationFailed:
		fmt.Printf("failed: %s\n", e.Error)
	}
}
