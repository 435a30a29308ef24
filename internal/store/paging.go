// ABOUTME: Cursor-based pagination for a channel's full message history
// ABOUTME: Opaque cursors encode (timestamp, id) so paging survives new inserts between pages

package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// GetMessagesParams specifies a cursor-paginated query over a channel's
// message history, independent of the live event bus ring buffer.
type GetMessagesParams struct {
	ChannelID string
	Since     *float64
	Until     *float64
	Limit     int    // 1-500, defaults to 50
	Cursor    string // opaque cursor from a previous response
}

// GetMessagesResult is one page of a GetMessagesParams query.
type GetMessagesResult struct {
	Messages   []*Message
	NextCursor string
	HasMore    bool
}

// encodeCursor packs a timestamp and message id into an opaque
// token. Base64 over "timestamp|id" — same shape the teacher uses for
// ledger event cursors, adapted to the real-valued timestamp and integer
// message id this store uses instead of RFC3339 strings and uuids.
func encodeCursor(ts float64, id int64) string {
	data := fmt.Sprintf("%s|%d", strconv.FormatFloat(ts, 'f', -1, 64), id)
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses an opaque cursor string into a timestamp and message
// id. Returns an error if the cursor is malformed.
func decodeCursor(cursor string) (float64, int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return 0, 0, errors.New("invalid cursor format: expected timestamp|id")
	}
	ts, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cursor id: %w", err)
	}
	return ts, id, nil
}

// GetMessages retrieves a channel's messages in chronological order with
// cursor-based pagination, so callers can page through full history
// independent of the event bus's bounded ring buffer.
func (s *SQLiteStore) GetMessages(ctx context.Context, p GetMessagesParams) (*GetMessagesResult, error) {
	if p.ChannelID == "" {
		return nil, errors.New("channel_id required")
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}

	var cursorTS float64
	var cursorID int64
	if p.Cursor != "" {
		var err error
		cursorTS, cursorID, err = decodeCursor(p.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = ?`
	args := []any{p.ChannelID}
	if p.Since != nil {
		query += " AND ts >= ?"
		args = append(args, *p.Since)
	}
	if p.Until != nil {
		query += " AND ts <= ?"
		args = append(args, *p.Until)
	}
	if p.Cursor != "" {
		query += " AND (ts > ? OR (ts = ? AND id > ?))"
		args = append(args, cursorTS, cursorTS, cursorID)
	}
	query += " ORDER BY ts, id LIMIT ?"
	args = append(args, p.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	result := &GetMessagesResult{}
	if len(messages) > p.Limit {
		result.HasMore = true
		messages = messages[:p.Limit]
	}
	result.Messages = messages
	if result.HasMore && len(messages) > 0 {
		last := messages[len(messages)-1]
		result.NextCursor = encodeCursor(last.Timestamp, last.ID)
	}
	return result, nil
}
