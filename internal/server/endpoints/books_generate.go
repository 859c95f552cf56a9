package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/fable/internal/api"
	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/dispatcher"
	"github.com/jackzampolin/fable/internal/orchestrator"
	"github.com/jackzampolin/fable/internal/providers"
	"github.com/jackzampolin/fable/internal/svcctx"
)

// GenerateRequest is the request body for starting book generation.
type GenerateRequest struct {
	Title        string   `json:"title,omitempty"`
	Theme        string   `json:"theme"`
	Keywords     []string `json:"keywords,omitempty"`
	TargetAge    string   `json:"target_age"`
	Style        string   `json:"style"`
	PageCount    int      `json:"page_count"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

func (req *GenerateRequest) spec() orchestrator.Spec {
	return orchestrator.Spec{
		Title:        req.Title,
		Theme:        req.Theme,
		Keywords:     req.Keywords,
		TargetAge:    providers.AgeGroup(req.TargetAge),
		Style:        providers.ArtStyle(req.Style),
		PageCount:    req.PageCount,
		CustomPrompt: req.CustomPrompt,
	}
}

// GenerateResponse is the response for a successful generation submission.
type GenerateResponse struct {
	BookID string `json:"book_id"`
	Status string `json:"status"`
}

// writeDispatchError maps dispatcher errors to HTTP status codes.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrInvalidSpec):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatcher.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatcher.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bookstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// GenerateBookEndpoint handles POST /api/books/generate.
// It creates a book record and submits its generation job in one call.
type GenerateBookEndpoint struct{}

func (e *GenerateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/generate", e.handler
}

func (e *GenerateBookEndpoint) RequiresInit() bool { return true }

func (e *GenerateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := svcctx.DispatcherFrom(r.Context())
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not initialized")
		return
	}

	book, err := d.CreateAndStart(r.Context(), req.spec())
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		BookID: book.ID,
		Status: string(bookstore.StatusGeneratingText),
	})
}

func (e *GenerateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req GenerateRequest
	var keywords string
	cmd := &cobra.Command{
		Use:   "generate <theme>",
		Short: "Generate a new picture book",
		Long: `Submit a picture book generation job.

The story and every page illustration are generated asynchronously.
Use 'fable api books progress <book-id>' or 'fable api books watch <book-id>'
to follow progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Theme = args[0]
			if keywords != "" {
				req.Keywords = strings.Split(keywords, ",")
			}

			client := api.NewClient(getServerURL())
			var resp GenerateResponse
			if err := client.Post(cmd.Context(), "/api/books/generate", req, &resp); err != nil {
				return err
			}

			fmt.Printf("Generation submitted: %s\n", resp.BookID)
			fmt.Printf("  Status: %s\n", resp.Status)
			fmt.Println("\nFollow progress with: fable api books watch", resp.BookID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Book title (generated from the story if not provided)")
	cmd.Flags().StringVar(&keywords, "keywords", "", "Comma-separated story keywords")
	cmd.Flags().StringVar(&req.TargetAge, "age", "preschool", "Target age group (toddler, preschool, early_elementary, elementary)")
	cmd.Flags().StringVar(&req.Style, "style", "watercolor", "Illustration style")
	cmd.Flags().IntVar(&req.PageCount, "pages", 5, "Number of pages")
	cmd.Flags().StringVar(&req.CustomPrompt, "prompt", "", "Extra instructions for the story")
	return cmd
}

// RegenerateBookEndpoint handles POST /api/books/{id}/generate.
// It resubmits generation for an existing draft or failed book.
type RegenerateBookEndpoint struct{}

func (e *RegenerateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/generate", e.handler
}

func (e *RegenerateBookEndpoint) RequiresInit() bool { return true }

func (e *RegenerateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	d := svcctx.DispatcherFrom(r.Context())
	store := svcctx.StoreFrom(r.Context())
	if d == nil || store == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not initialized")
		return
	}

	book, err := store.GetBook(r.Context(), id)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	// The stored record carries the original request parameters.
	spec := orchestrator.Spec{
		Title:     book.Title,
		Theme:     book.Theme,
		TargetAge: providers.AgeGroup(book.TargetAge),
		Style:     providers.ArtStyle(book.Style),
		PageCount: book.RequestedPages,
	}
	if err := d.RequestStart(r.Context(), id, spec); err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		BookID: id,
		Status: string(bookstore.StatusGeneratingText),
	})
}

func (e *RegenerateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Restart generation for a draft or failed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GenerateResponse
			if err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/generate", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Generation resubmitted: %s (%s)\n", resp.BookID, resp.Status)
			return nil
		},
	}
}

// CancelBookEndpoint handles POST /api/books/{id}/cancel.
type CancelBookEndpoint struct{}

// CancelResponse reports whether a live job was found to cancel.
type CancelResponse struct {
	BookID    string `json:"book_id"`
	Cancelled bool   `json:"cancelled"`
}

func (e *CancelBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/cancel", e.handler
}

func (e *CancelBookEndpoint) RequiresInit() bool { return true }

func (e *CancelBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	d := svcctx.DispatcherFrom(r.Context())
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not initialized")
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{
		BookID:    id,
		Cancelled: d.Cancel(id),
	})
}

func (e *CancelBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CancelResponse
			if err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			if resp.Cancelled {
				fmt.Println("Cancellation requested; in-flight pages will drain")
			} else {
				fmt.Println("No running generation job for this book")
			}
			return nil
		},
	}
}
