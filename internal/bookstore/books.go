package bookstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const bookColumns = `id, title, description, theme, target_age, style, requested_pages,
	status, cover_image_ref, error_message, created_at, updated_at`

// NewBook describes a book row for CreateBook.
type NewBook struct {
	ID             string
	Title          string
	Theme          string
	TargetAge      string
	Style          string
	RequestedPages int
}

// CreateBook inserts a new book in draft status.
func (s *Store) CreateBook(ctx context.Context, nb NewBook) (*Book, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO books (id, title, theme, target_age, style, requested_pages, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nb.ID, nb.Title, nb.Theme, nb.TargetAge, nb.Style, nb.RequestedPages, StatusDraft, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return s.GetBook(ctx, nb.ID)
}

// GetBook fetches a book by id. Returns ErrNotFound if absent.
func (s *Store) GetBook(ctx context.Context, id string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ListBooks returns all books ordered newest first.
func (s *Store) ListBooks(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBookStatus sets a book's status and error message. Passing an empty
// message clears any previous error.
func (s *Store) UpdateBookStatus(ctx context.Context, id string, status Status, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(errorMessage), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("update book status: %w", err)
	}
	return requireRow(res, id)
}

// SetTitleAndDescription fills in the story metadata after the text stage.
// An existing caller-provided title is preserved.
func (s *Store) SetTitleAndDescription(ctx context.Context, id, title, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET title = CASE WHEN title = '' THEN ? ELSE title END,
		    description = ?, updated_at = ? WHERE id = ?`,
		title, description, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("set title/description: %w", err)
	}
	return requireRow(res, id)
}

// SetCover records the book's cover image reference.
func (s *Store) SetCover(ctx context.Context, id, imageRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET cover_image_ref = ?, updated_at = ? WHERE id = ?`,
		imageRef, nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("set cover: %w", err)
	}
	return requireRow(res, id)
}

// MarkInterrupted fails every book left mid-generation by a previous
// process. In-flight external calls cannot be resumed without duplicating
// side effects, so orphaned jobs become explicit re-submittable failures.
// Returns the number of books swept.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE books SET status = ?, error_message = ?, updated_at = ?
		 WHERE status IN (?, ?)`,
		StatusFailed, "generation interrupted by restart", nowString(),
		StatusGeneratingText, StatusGeneratingImages,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*Book, error) {
	var (
		b                    Book
		cover, errMsg        sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Description, &b.Theme, &b.TargetAge, &b.Style,
		&b.RequestedPages, &b.Status, &cover, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	b.CoverImageRef = cover.String
	b.ErrorMessage = errMsg.String
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &b, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return nil
}
