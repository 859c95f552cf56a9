// Package events defines the progress events a generation job emits and
// their wire encoding. Each event type is its own variant so handlers can
// switch exhaustively instead of picking through optional fields.
package events

import (
	"encoding/json"
	"fmt"
)

// Type tags an event on the wire.
type Type string

const (
	TypeStatusUpdate        Type = "status_update"
	TypeImageProgress       Type = "image_progress"
	TypePageCompleted       Type = "page_completed"
	TypeGenerationCompleted Type = "generation_completed"
	TypeGenerationFailed    Type = "generation_failed"
	TypePing                Type = "ping"
)

// Event is the sealed interface all progress events implement.
type Event interface {
	EventType() Type
	Book() string
}

// Terminal reports whether ev ends its job's event stream.
func Terminal(ev Event) bool {
	switch ev.EventType() {
	case TypeGenerationCompleted, TypeGenerationFailed:
		return true
	}
	return false
}

// StatusUpdate reports a stage transition or running page progress.
type StatusUpdate struct {
	EvType         Type   `json:"type"`
	BookID         string `json:"book_id"`
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	CompletedPages int    `json:"completed_pages"`
	TotalPages     int    `json:"total_pages"`
}

// NewStatusUpdate creates a status_update event.
func NewStatusUpdate(bookID, status, stage string, completed, total int) StatusUpdate {
	return StatusUpdate{
		EvType:         TypeStatusUpdate,
		BookID:         bookID,
		Status:         status,
		Stage:          stage,
		CompletedPages: completed,
		TotalPages:     total,
	}
}

func (e StatusUpdate) EventType() Type { return TypeStatusUpdate }
func (e StatusUpdate) Book() string    { return e.BookID }

// ImageProgress reports percentage progress through the image stage.
// The orchestrator reports running progress via StatusUpdate; this variant
// exists for wire compatibility with clients of the original progress feed
// and is decoded but not emitted by the current pipeline.
type ImageProgress struct {
	EvType         Type   `json:"type"`
	BookID         string `json:"book_id"`
	Stage          string `json:"stage"`
	CompletedPages int    `json:"completed_pages"`
	TotalPages     int    `json:"total_pages"`
	Progress       int    `json:"progress"`
}

func (e ImageProgress) EventType() Type { return TypeImageProgress }
func (e ImageProgress) Book() string    { return e.BookID }

// PageCompleted reports one page reaching a terminal per-page state.
// Failed pages carry Error and an empty ImageURL.
type PageCompleted struct {
	EvType     Type   `json:"type"`
	BookID     string `json:"book_id"`
	PageNumber int    `json:"page_number"`
	ImageURL   string `json:"image_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewPageCompleted creates a page_completed event for a successful page.
func NewPageCompleted(bookID string, pageNumber int, imageURL string) PageCompleted {
	return PageCompleted{
		EvType:     TypePageCompleted,
		BookID:     bookID,
		PageNumber: pageNumber,
		ImageURL:   imageURL,
	}
}

// NewPageFailed creates a page_completed event for a page that exhausted retries.
func NewPageFailed(bookID string, pageNumber int, reason string) PageCompleted {
	return PageCompleted{
		EvType:     TypePageCompleted,
		BookID:     bookID,
		PageNumber: pageNumber,
		Error:      reason,
	}
}

func (e PageCompleted) EventType() Type { return TypePageCompleted }
func (e PageCompleted) Book() string    { return e.BookID }

// GenerationCompleted is the terminal event of a fully successful job.
type GenerationCompleted struct {
	EvType         Type   `json:"type"`
	BookID         string `json:"book_id"`
	Status         string `json:"status"`
	CompletedPages int    `json:"completed_pages"`
	TotalPages     int    `json:"total_pages"`
}

// NewGenerationCompleted creates a generation_completed event.
func NewGenerationCompleted(bookID string, completed, total int) GenerationCompleted {
	return GenerationCompleted{
		EvType:         TypeGenerationCompleted,
		BookID:         bookID,
		Status:         "completed",
		CompletedPages: completed,
		TotalPages:     total,
	}
}

func (e GenerationCompleted) EventType() Type { return TypeGenerationCompleted }
func (e GenerationCompleted) Book() string    { return e.BookID }

// GenerationFailed is the terminal event of a failed or cancelled job.
type GenerationFailed struct {
	EvType Type   `json:"type"`
	BookID string `json:"book_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewGenerationFailed creates a generation_failed event.
func NewGenerationFailed(bookID, reason string) GenerationFailed {
	return GenerationFailed{
		EvType: TypeGenerationFailed,
		BookID: bookID,
		Status: "failed",
		Error:  reason,
	}
}

func (e GenerationFailed) EventType() Type { return TypeGenerationFailed }
func (e GenerationFailed) Book() string    { return e.BookID }

// Ping is the heartbeat record exchanged independently of progress events.
type Ping struct {
	EvType Type   `json:"type"`
	BookID string `json:"book_id"`
}

// NewPing creates a heartbeat record for the given book.
func NewPing(bookID string) Ping {
	return Ping{EvType: TypePing, BookID: bookID}
}

func (e Ping) EventType() Type { return TypePing }
func (e Ping) Book() string    { return e.BookID }

// envelope peeks at the tag so Decode can pick the right variant.
type envelope struct {
	Type Type `json:"type"`
}

// Decode parses a wire record into its event variant.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Type {
	case TypeStatusUpdate:
		var e StatusUpdate
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode status_update: %w", err)
		}
		return e, nil
	case TypeImageProgress:
		var e ImageProgress
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode image_progress: %w", err)
		}
		return e, nil
	case TypePageCompleted:
		var e PageCompleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode page_completed: %w", err)
		}
		return e, nil
	case TypeGenerationCompleted:
		var e GenerationCompleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode generation_completed: %w", err)
		}
		return e, nil
	case TypeGenerationFailed:
		var e GenerationFailed
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode generation_failed: %w", err)
		}
		return e, nil
	case TypePing:
		var e Ping
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode ping: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}
