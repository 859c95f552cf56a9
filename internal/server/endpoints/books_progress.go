package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/fable/internal/api"
	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/svcctx"
)

// ProgressEndpoint handles GET /api/books/{id}/progress. It serves the
// retained snapshot so polling clients see progress without a live stream.
type ProgressEndpoint struct{}

func (e *ProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/progress", e.handler
}

func (e *ProgressEndpoint) RequiresInit() bool { return true }

func (e *ProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	bus := svcctx.BroadcasterFrom(r.Context())
	store := svcctx.StoreFrom(r.Context())
	if bus == nil || store == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcaster not initialized")
		return
	}

	if snap, ok := bus.Snapshot(id); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	// No event published this process lifetime; answer from the store.
	book, err := store.GetBook(r.Context(), id)
	if errors.Is(err, bookstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap := broadcast.Snapshot{
		BookID:     id,
		Status:     string(book.Status),
		TotalPages: book.RequestedPages,
		Error:      book.ErrorMessage,
		UpdatedAt:  book.UpdatedAt,
	}
	if pages, err := store.GetPages(r.Context(), id); err == nil {
		for _, p := range pages {
			if p.Status == bookstore.PageDone || p.Status == bookstore.PageFailed {
				snap.CompletedPages++
			}
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (e *ProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Get the last-known generation progress for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var snap broadcast.Snapshot
			if err := client.Get(cmd.Context(), "/api/books/"+args[0]+"/progress", &snap); err != nil {
				return err
			}
			return api.Output(snap)
		},
	}
}
