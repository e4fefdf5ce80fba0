package store

import (
	"context"
	"time"
)

// NewsItem is a headline attached to a market. The stats aggregator only
// counts them; external feeds own the inserts.
type NewsItem struct {
	ID          int64     `json:"id"`
	MarketID    string    `json:"marketId"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// InsertNews records a news item for a market.
func (s *Store) InsertNews(ctx context.Context, item *NewsItem) (int64, error) {
	if item.PublishedAt.IsZero() {
		item.PublishedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO news_items (market_id, title, url, published_at)
		VALUES (?, ?, ?, ?)
	`, item.MarketID, item.Title, item.URL, encodeTime(item.PublishedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListNews returns a market's news, newest first.
func (s *Store) ListNews(ctx context.Context, marketID string, limit int) ([]*NewsItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, title, url, published_at
		  FROM news_items
		 WHERE market_id = ?
		 ORDER BY published_at DESC, id DESC
		 LIMIT ?
	`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NewsItem
	for rows.Next() {
		var (
			item      NewsItem
			published string
		)
		if err := rows.Scan(&item.ID, &item.MarketID, &item.Title, &item.URL, &published); err != nil {
			return nil, err
		}
		item.PublishedAt = decodeTime(published)
		out = append(out, &item)
	}
	return out, rows.Err()
}
