package bookstore

import (
	"context"
	"database/sql"
	"fmt"
)

const pageColumns = `book_id, page_number, text_content, scene_description,
	image_prompt, image_ref, page_status, error_message`

// UpsertPages writes all page rows for a book in one transaction. Existing
// rows are replaced; image fields reset to pending. Called once by the text
// stage before any image work starts.
func (s *Store) UpsertPages(ctx context.Context, bookID string, pages []NewPage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pages tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range pages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (book_id, page_number, text_content, scene_description, image_prompt, page_status)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (book_id, page_number) DO UPDATE SET
			     text_content = excluded.text_content,
			     scene_description = excluded.scene_description,
			     image_prompt = excluded.image_prompt,
			     image_ref = NULL,
			     page_status = excluded.page_status,
			     error_message = NULL`,
			bookID, p.PageNumber, p.TextContent, p.SceneDescription, p.ImagePrompt, PagePending,
		); err != nil {
			return fmt.Errorf("upsert page %d: %w", p.PageNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pages: %w", err)
	}
	return nil
}

// GetPages returns a book's pages ordered by page number.
func (s *Store) GetPages(ctx context.Context, bookID string) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE book_id = ? ORDER BY page_number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("get pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		var (
			p                Page
			imageRef, errMsg sql.NullString
		)
		if err := rows.Scan(&p.BookID, &p.PageNumber, &p.TextContent, &p.SceneDescription,
			&p.ImagePrompt, &imageRef, &p.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.ImageRef = imageRef.String
		p.ErrorMessage = errMsg.String
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// MarkPageGenerating flags a page as having an in-flight image call.
func (s *Store) MarkPageGenerating(ctx context.Context, bookID string, pageNumber int) error {
	return s.updatePage(ctx, bookID, pageNumber,
		`UPDATE pages SET page_status = ? WHERE book_id = ? AND page_number = ?`,
		PageGenerating, bookID, pageNumber)
}

// UpdatePageImage records a successful image generation for one page.
// Touches only that page's row, so sibling writers are unaffected.
func (s *Store) UpdatePageImage(ctx context.Context, bookID string, pageNumber int, imageRef string) error {
	return s.updatePage(ctx, bookID, pageNumber,
		`UPDATE pages SET image_ref = ?, page_status = ?, error_message = NULL
		 WHERE book_id = ? AND page_number = ?`,
		imageRef, PageDone, bookID, pageNumber)
}

// UpdatePageFailure marks a page failed with a reason. The page's text
// content is retained.
func (s *Store) UpdatePageFailure(ctx context.Context, bookID string, pageNumber int, reason string) error {
	return s.updatePage(ctx, bookID, pageNumber,
		`UPDATE pages SET page_status = ?, error_message = ?
		 WHERE book_id = ? AND page_number = ?`,
		PageFailed, reason, bookID, pageNumber)
}

func (s *Store) updatePage(ctx context.Context, bookID string, pageNumber int, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update page %d: %w", pageNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %s/%d: %w", bookID, pageNumber, ErrNotFound)
	}
	return nil
}
