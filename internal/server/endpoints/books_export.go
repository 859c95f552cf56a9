package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/epub"
	"github.com/jackzampolin/fable/internal/home"
	"github.com/jackzampolin/fable/internal/svcctx"
)

// ExportBookEndpoint handles GET /api/books/{id}/export. It packages a
// completed book as an ePub, embedding the generated illustrations.
type ExportBookEndpoint struct{}

func (e *ExportBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/export", e.handler
}

func (e *ExportBookEndpoint) RequiresInit() bool { return true }

func (e *ExportBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	book, err := store.GetBook(r.Context(), id)
	if errors.Is(err, bookstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if book.Status != bookstore.StatusCompleted {
		writeError(w, http.StatusConflict, "book generation is not completed")
		return
	}

	records, err := store.GetPages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pages := make([]epub.Page, 0, len(records))
	for _, p := range records {
		pages = append(pages, epub.Page{
			Number:   p.PageNumber,
			Text:     p.TextContent,
			ImageRef: p.ImageRef,
		})
	}

	builder := epub.NewBuilder(epub.Book{
		ID:          book.ID,
		Title:       book.Title,
		Description: book.Description,
	}, pages, &epub.HTTPFetcher{})

	buf, err := builder.BuildToBuffer(r.Context())
	if err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("epub export failed", "book_id", id, "error", err)
		}
		writeError(w, http.StatusBadGateway, "failed to assemble epub: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/epub+zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".epub"))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (e *ExportBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a completed book as an ePub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			path := outputPath
			if path == "" {
				dir, err := home.New("")
				if err != nil {
					return err
				}
				if err := dir.EnsureExportsDir(); err != nil {
					return err
				}
				path = dir.ExportPath(id)
			}

			client := &http.Client{Timeout: 5 * time.Minute}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				getServerURL()+"/api/books/"+id+"/export", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("export failed (HTTP %d): %s", resp.StatusCode, body)
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := io.Copy(f, resp.Body)
			if err != nil {
				return err
			}

			fmt.Printf("Exported %s (%d bytes)\n", path, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output-file", "f", "", "output path (default: ~/.fable/exports/<id>.epub)")
	return cmd
}
