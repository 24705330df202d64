// Package postgres reads the knowledge corpus and domain tables from a hosted
// Postgres backend and keeps FAQ vectors in a pgvector column. Content is
// authored in the hosted backend itself; this store never writes FAQ entries.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/retrieval"
	"github.com/hotelbook/concierge/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

var _ retrieval.VectorStore = (*Store)(nil)

// Store is a pgx connection pool over the hosted schema.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates any missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Knowledge corpus ---

const faqColumns = `id, topic, reply_message, reply_format, reply_payload, updated_at`

func (s *Store) ListFAQs(ctx context.Context) ([]knowledge.FAQ, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+faqColumns+` FROM faqs ORDER BY lower(btrim(topic))`)
	if err != nil {
		return nil, fmt.Errorf("listing faqs: %w", err)
	}
	defer rows.Close()

	var out []knowledge.FAQ
	for rows.Next() {
		f, err := scanFAQ(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetFAQ(ctx context.Context, id string) (knowledge.FAQ, error) {
	f, err := scanFAQ(s.pool.QueryRow(ctx, `SELECT `+faqColumns+` FROM faqs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return knowledge.FAQ{}, storage.ErrNotFound
	}
	return f, err
}

func (s *Store) FAQByTopic(ctx context.Context, topic string) (knowledge.FAQ, error) {
	f, err := scanFAQ(s.pool.QueryRow(ctx, `SELECT `+faqColumns+` FROM faqs WHERE lower(btrim(topic)) = $1`, knowledge.Normalize(topic)))
	if errors.Is(err, pgx.ErrNoRows) {
		return knowledge.FAQ{}, storage.ErrNotFound
	}
	return f, err
}

func scanFAQ(row pgx.Row) (knowledge.FAQ, error) {
	var (
		f       knowledge.FAQ
		format  string
		payload []byte
	)
	if err := row.Scan(&f.ID, &f.Topic, &f.ReplyMessage, &format, &payload, &f.UpdatedAt); err != nil {
		return knowledge.FAQ{}, err
	}
	rf, err := knowledge.ParseFormat(format)
	if err != nil {
		return knowledge.FAQ{}, fmt.Errorf("faq %s: %w", f.ID, err)
	}
	if f.Reply, err = knowledge.DecodeReply(rf, payload); err != nil {
		return knowledge.FAQ{}, fmt.Errorf("faq %s: %w", f.ID, err)
	}
	return f, nil
}

// ListAliases returns every alias, most recently updated first. Alias text
// is not unique here, so readers rely on this order to break ties.
func (s *Store) ListAliases(ctx context.Context) ([]knowledge.Alias, error) {
	return s.queryAliases(ctx, `SELECT id, faq_id, alias, updated_at FROM faq_aliases ORDER BY updated_at DESC, id`)
}

func (s *Store) AliasesForFAQ(ctx context.Context, faqID string) ([]knowledge.Alias, error) {
	return s.queryAliases(ctx, `SELECT id, faq_id, alias, updated_at FROM faq_aliases WHERE faq_id = $1 ORDER BY updated_at DESC, id`, faqID)
}

func (s *Store) queryAliases(ctx context.Context, q string, args ...any) ([]knowledge.Alias, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Alias
	for rows.Next() {
		var a knowledge.Alias
		if err := rows.Scan(&a.ID, &a.FAQID, &a.Alias, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListSnippets(ctx context.Context) ([]knowledge.Snippet, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, content, source, created_at FROM context_snippets ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Snippet
	for rows.Next() {
		var sn knowledge.Snippet
		if err := rows.Scan(&sn.ID, &sn.Content, &sn.Source, &sn.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// --- Domain tables ---

const roomColumns = `id, type, price, promo_price, currency, capacity, active, size, amenities, bed_type, view, description, images`

func (s *Store) ListRooms(ctx context.Context, activeOnly bool) ([]knowledge.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms`
	if activeOnly {
		q += ` WHERE active`
	}
	return s.queryRooms(ctx, q+` ORDER BY price, type`)
}

func (s *Store) RoomsByType(ctx context.Context, names []string) ([]knowledge.Room, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms WHERE type = ANY($1)`, names)
}

func (s *Store) queryRooms(ctx context.Context, q string, args ...any) ([]knowledge.Room, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Room
	for rows.Next() {
		var r knowledge.Room
		if err := rows.Scan(&r.ID, &r.Type, &r.Price, &r.PromoPrice, &r.Currency, &r.Capacity, &r.Active,
			&r.Size, &r.Amenities, &r.BedType, &r.View, &r.Description, &r.Images); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ActivePromotions(ctx context.Context, now time.Time) ([]knowledge.Promotion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, description, discount_percent, valid_from, valid_until, active
		FROM promotions WHERE active AND valid_from <= $1 AND valid_until >= $1
		ORDER BY valid_until, code`, now)
	if err != nil {
		return nil, fmt.Errorf("querying promotions: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Promotion
	for rows.Next() {
		var p knowledge.Promotion
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.DiscountPercent, &p.ValidFrom, &p.ValidUntil, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Sessions ---

func (s *Store) AppendMessage(ctx context.Context, sessionID, text string, isBot bool) (storage.Message, error) {
	m := storage.Message{ID: uuid.New().String(), SessionID: sessionID, Text: text, IsBot: isBot}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO chat_sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sessionID); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO chat_messages (id, session_id, text, is_bot) VALUES ($1, $2, $3, $4)
			RETURNING created_at`, m.ID, sessionID, text, isBot).Scan(&m.CreatedAt)
	})
	if err != nil {
		return storage.Message{}, fmt.Errorf("appending message: %w", err)
	}
	return m, nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]storage.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, text, is_bot, created_at FROM (
			SELECT seq, id, session_id, text, is_bot, created_at FROM chat_messages
			WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		var m storage.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Text, &m.IsBot, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

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

func (s *Store) IsTakenOver(ctx context.Context, sessionID string) (bool, error) {
	var on bool
	err := s.pool.QueryRow(ctx, `SELECT takeover FROM chat_sessions WHERE id = $1`, sessionID).Scan(&on)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading takeover flag: %w", err)
	}
	return on, nil
}

func (s *Store) SetTakeover(ctx context.Context, sessionID string, on bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, takeover) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET takeover = excluded.takeover, updated_at = now()`, sessionID, on)
	if err != nil {
		return fmt.Errorf("setting takeover flag: %w", err)
	}
	return nil
}

// --- Vectors ---

func (s *Store) Replace(ctx context.Context, faqID string, records []retrieval.Record) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM faq_vectors WHERE faq_id = $1`, faqID); err != nil {
			return fmt.Errorf("clearing vectors for %s: %w", faqID, err)
		}
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(`INSERT INTO faq_vectors (id, faq_id, kind, text, embedding) VALUES ($1, $2, $3, $4, $5::vector)`,
				r.ID, faqID, r.Kind, r.Text, vectorLiteral(r.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting vectors for %s: %w", faqID, err)
		}
		return nil
	})
}

// Search ranks by cosine distance. Rows with a different dimension than the
// query are skipped since pgvector cannot compare them.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]retrieval.ScoredRecord, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	lit := vectorLiteral(vector)
	rows, err := s.pool.Query(ctx, `
		SELECT id, faq_id, kind, text, created_at, 1 - (embedding <=> $1::vector) AS score
		FROM faq_vectors WHERE vector_dims(embedding) = $2
		ORDER BY embedding <=> $1::vector, id LIMIT $3`, lit, len(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	defer rows.Close()

	var out []retrieval.ScoredRecord
	for rows.Next() {
		var r retrieval.ScoredRecord
		var score float64
		if err := rows.Scan(&r.ID, &r.FAQID, &r.Kind, &r.Text, &r.CreatedAt, &score); err != nil {
			return nil, err
		}
		r.Score = float32(score)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteByFAQ(ctx context.Context, faqID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM faq_vectors WHERE faq_id = $1`, faqID)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM faq_vectors`).Scan(&n)
	return n, err
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
