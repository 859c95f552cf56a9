package bookstore

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a book or page does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of a book's generation.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusGeneratingText   Status = "generating_text"
	StatusGeneratingImages Status = "generating_images"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether s ends a generation job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Generating reports whether s indicates in-flight generation work.
func (s Status) Generating() bool {
	return s == StatusGeneratingText || s == StatusGeneratingImages
}

// PageStatus is the per-page image generation state.
type PageStatus string

const (
	PagePending    PageStatus = "pending"
	PageGenerating PageStatus = "generating"
	PageDone       PageStatus = "done"
	PageFailed     PageStatus = "failed"
)

// Book is the durable record of one picture book.
type Book struct {
	ID             string
	Title          string
	Description    string
	Theme          string
	TargetAge      string
	Style          string
	RequestedPages int
	Status         Status
	CoverImageRef  string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Page is one page of a book. Text fields are written by the text stage,
// ImageRef and the terminal PageStatus by the image stage.
type Page struct {
	BookID           string
	PageNumber       int
	TextContent      string
	SceneDescription string
	ImagePrompt      string
	ImageRef         string
	Status           PageStatus
	ErrorMessage     string
}

// NewPage describes a page row for UpsertPages.
type NewPage struct {
	PageNumber       int
	TextContent      string
	SceneDescription string
	ImagePrompt      string
}
