package broadcast

import (
	"time"

	"github.com/jackzampolin/fable/internal/events"
)

// Snapshot is the retained last-known status of a book's generation,
// queryable independent of any live subscriber.
type Snapshot struct {
	BookID         string      `json:"book_id"`
	Status         string      `json:"status"`
	Stage          string      `json:"stage,omitempty"`
	CompletedPages int         `json:"completed_pages"`
	TotalPages     int         `json:"total_pages"`
	Error          string      `json:"error,omitempty"`
	LastEventType  events.Type `json:"last_event_type"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// apply folds one published event into the snapshot. Page counters only
// move forward; a stale or duplicate event can never regress them.
func (s *Snapshot) apply(ev events.Event) {
	s.BookID = ev.Book()
	s.LastEventType = ev.EventType()
	s.UpdatedAt = time.Now().UTC()

	switch e := ev.(type) {
	case events.StatusUpdate:
		s.Status = e.Status
		s.Stage = e.Stage
		if e.CompletedPages > s.CompletedPages {
			s.CompletedPages = e.CompletedPages
		}
		if e.TotalPages > 0 {
			s.TotalPages = e.TotalPages
		}
	case events.ImageProgress:
		if e.CompletedPages > s.CompletedPages {
			s.CompletedPages = e.CompletedPages
		}
		if e.TotalPages > 0 {
			s.TotalPages = e.TotalPages
		}
	case events.PageCompleted:
		// Counters arrive in the paired status_update.
	case events.GenerationCompleted:
		s.Status = e.Status
		s.Stage = ""
		if e.CompletedPages > s.CompletedPages {
			s.CompletedPages = e.CompletedPages
		}
		if e.TotalPages > 0 {
			s.TotalPages = e.TotalPages
		}
	case events.GenerationFailed:
		s.Status = e.Status
		s.Stage = ""
		s.Error = e.Error
	}
}
