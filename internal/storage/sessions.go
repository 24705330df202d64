package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// ensureSession creates the session row on first use.
func (s *Store) ensureSession(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, takeover, created_at, updated_at) VALUES (?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`, sessionID, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("ensuring session %s: %w", sessionID, err)
	}
	return nil
}

// AppendMessage adds one message to the session log.
func (s *Store) AppendMessage(ctx context.Context, sessionID, text string, isBot bool) (Message, error) {
	now := time.Now().UTC()
	if err := s.ensureSession(ctx, sessionID, now); err != nil {
		return Message{}, err
	}
	m := Message{ID: uuid.New().String(), SessionID: sessionID, Text: text, IsBot: isBot, CreatedAt: now}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, text, is_bot, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Text, boolInt(m.IsBot), formatTime(m.CreatedAt))
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, text, is_bot, created_at FROM chat_messages
		WHERE session_id = ? ORDER BY rowid DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var isBot int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Text, &isBot, &createdAt); err != nil {
			return nil, err
		}
		m.IsBot = isBot == 1
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecentTurns returns the last n turns of a session, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, n int) ([]knowledge.Turn, error) {
	msgs, err := s.ListMessages(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	turns := make([]knowledge.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = knowledge.Turn{Text: m.Text, IsBot: m.IsBot, CreatedAt: m.CreatedAt}
	}
	return turns, nil
}

// IsTakenOver reports whether a human agent has taken over the session.
// Unknown sessions are not taken over.
func (s *Store) IsTakenOver(ctx context.Context, sessionID string) (bool, error) {
	var on int
	err := s.db.QueryRowContext(ctx, `SELECT takeover FROM chat_sessions WHERE id = ?`, sessionID).Scan(&on)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading takeover flag: %w", err)
	}
	return on == 1, nil
}

// SetTakeover sets or clears the live-human-takeover flag.
func (s *Store) SetTakeover(ctx context.Context, sessionID string, on bool) error {
	now := time.Now().UTC()
	if err := s.ensureSession(ctx, sessionID, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET takeover = ?, updated_at = ? WHERE id = ?`,
		boolInt(on), formatTime(now), sessionID)
	if err != nil {
		return fmt.Errorf("setting takeover flag: %w", err)
	}
	return nil
}
