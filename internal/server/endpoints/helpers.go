// Package endpoints contains one Endpoint implementation per API operation.
// Each endpoint carries its HTTP handler and the CLI command that calls it.
package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/jackzampolin/fable/internal/bookstore"
)

// Book is the API view of a book record.
type Book struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Theme          string `json:"theme"`
	TargetAge      string `json:"target_age"`
	Style          string `json:"style"`
	RequestedPages int    `json:"requested_pages"`
	Status         string `json:"status"`
	CoverImageURL  string `json:"cover_image_url,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// Page is the API view of a book page.
type Page struct {
	PageNumber       int    `json:"page_number"`
	Text             string `json:"text"`
	SceneDescription string `json:"scene_description,omitempty"`
	ImageURL         string `json:"image_url,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}

func bookView(b *bookstore.Book) Book {
	return Book{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		Theme:          b.Theme,
		TargetAge:      b.TargetAge,
		Style:          b.Style,
		RequestedPages: b.RequestedPages,
		Status:         string(b.Status),
		CoverImageURL:  b.CoverImageRef,
		Error:          b.ErrorMessage,
		CreatedAt:      b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      b.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func pageView(p *bookstore.Page) Page {
	return Page{
		PageNumber:       p.PageNumber,
		Text:             p.TextContent,
		SceneDescription: p.SceneDescription,
		ImageURL:         p.ImageRef,
		Status:           string(p.Status),
		Error:            p.ErrorMessage,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
