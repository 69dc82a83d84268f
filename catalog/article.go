package catalog

import (
	"context"
	"fmt"
	"time"
)

// Article is a published communication article.
type Article struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Thumb        string    `json:"thumb"`
	Description  string    `json:"description"`
	Type         string    `json:"type"`
	InputTime    time.Time `json:"input_time"`
	CommentCount int       `json:"comment_count"`
	Content      string    `json:"content"`
}

// ArticlesAfter returns up to limit articles with id greater than
// afterID, in ascending id order.
func (s *Store) ArticlesAfter(ctx context.Context, afterID int64, limit int) ([]Article, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rows, err = s.db.QueryContext(ctx, s.rebind(`
		SELECT id, title, url, COALESCE(thumb, ''), COALESCE(description, ''),
		       type, input_time, comment_count, content
		FROM article WHERE id > ? ORDER BY id ASC LIMIT ?`),
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying articles after %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err = rows.Scan(&a.ID, &a.Title, &a.URL, &a.Thumb, &a.Description,
			&a.Type, &a.InputTime, &a.CommentCount, &a.Content); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
