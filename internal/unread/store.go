package unread

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/crm-realtime/internal/model"
)

const unreadCountsSQL = `
SELECT conversation_id, count(*)
FROM messages
WHERE conversation_id = ANY($1) AND read_at IS NULL
GROUP BY conversation_id`

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore reads unread counts from the CRM messages table.
type PGStore struct {
	db Querier
}

// NewPGStore creates a Store backed by Postgres.
func NewPGStore(db Querier) *PGStore {
	return &PGStore{db: db}
}

// UnreadCounts returns one entry per requested id, in request order.
// Conversations with no unread messages are reported as zero.
func (s *PGStore) UnreadCounts(ctx context.Context, conversationIDs []string) ([]model.UnreadCount, error) {
	rows, err := s.db.Query(ctx, unreadCountsSQL, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]int, len(conversationIDs))
	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		byID[id] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read unread counts: %w", err)
	}

	out := make([]model.UnreadCount, len(conversationIDs))
	for i, id := range conversationIDs {
		out[i] = model.UnreadCount{ConversationID: id, Unread: byID[id]}
	}
	return out, nil
}
