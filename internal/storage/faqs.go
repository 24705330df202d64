package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// --- FAQ entries ---

const faqColumns = `id, topic, reply_message, reply_format, reply_payload, updated_at`

// CreateFAQ inserts f, assigning an ID when empty. A topic whose normalized
// text already exists returns ErrDuplicate.
func (s *Store) CreateFAQ(ctx context.Context, f knowledge.FAQ) (knowledge.FAQ, error) {
	if strings.TrimSpace(f.Topic) == "" {
		return knowledge.FAQ{}, fmt.Errorf("faq topic is empty")
	}
	format, payload, err := knowledge.EncodeReply(f.Reply)
	if err != nil {
		return knowledge.FAQ{}, err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO faqs (id, topic, topic_norm, reply_message, reply_format, reply_payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Topic, knowledge.Normalize(f.Topic), f.ReplyMessage, string(format), nullablePayload(payload),
		formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return knowledge.FAQ{}, fmt.Errorf("faq topic %q: %w", f.Topic, ErrDuplicate)
	}
	if err != nil {
		return knowledge.FAQ{}, fmt.Errorf("inserting faq: %w", err)
	}
	f.UpdatedAt = now
	if f.Reply == nil {
		f.Reply = knowledge.MessageReply{}
	}
	return f, nil
}

// UpdateFAQ replaces the topic and reply of an existing entry.
func (s *Store) UpdateFAQ(ctx context.Context, f knowledge.FAQ) error {
	format, payload, err := knowledge.EncodeReply(f.Reply)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE faqs SET topic = ?, topic_norm = ?, reply_message = ?, reply_format = ?, reply_payload = ?, updated_at = ?
		WHERE id = ?`,
		f.Topic, knowledge.Normalize(f.Topic), f.ReplyMessage, string(format), nullablePayload(payload),
		formatTime(time.Now()), f.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("faq topic %q: %w", f.Topic, ErrDuplicate)
	}
	return affectedOne(res, err)
}

// GetFAQ returns the entry with the given ID.
func (s *Store) GetFAQ(ctx context.Context, id string) (knowledge.FAQ, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+faqColumns+` FROM faqs WHERE id = ?`, id)
	f, err := scanFAQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return knowledge.FAQ{}, ErrNotFound
	}
	return f, err
}

// FAQByTopic returns the entry whose normalized topic equals topic.
func (s *Store) FAQByTopic(ctx context.Context, topic string) (knowledge.FAQ, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+faqColumns+` FROM faqs WHERE topic_norm = ?`, knowledge.Normalize(topic))
	f, err := scanFAQ(row)
	if errors.Is(err, sql.ErrNoRows) {
		return knowledge.FAQ{}, ErrNotFound
	}
	return f, err
}

// ListFAQs returns every entry, sentinels included, ordered by topic.
func (s *Store) ListFAQs(ctx context.Context) ([]knowledge.FAQ, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+faqColumns+` FROM faqs ORDER BY topic_norm ASC`)
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

// DeleteFAQ removes the entry, its aliases and its vectors.
func (s *Store) DeleteFAQ(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM faq_aliases WHERE faq_id = ?`, id); err != nil {
		return fmt.Errorf("deleting aliases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM faq_vectors WHERE faq_id = ?`, id); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM faqs WHERE id = ?`, id)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFAQ(r rowScanner) (knowledge.FAQ, error) {
	var (
		f         knowledge.FAQ
		format    string
		payload   sql.NullString
		updatedAt string
	)
	if err := r.Scan(&f.ID, &f.Topic, &f.ReplyMessage, &format, &payload, &updatedAt); err != nil {
		return knowledge.FAQ{}, err
	}
	rf, err := knowledge.ParseFormat(format)
	if err != nil {
		return knowledge.FAQ{}, fmt.Errorf("faq %s: %w", f.ID, err)
	}
	var raw []byte
	if payload.Valid {
		raw = []byte(payload.String)
	}
	if f.Reply, err = knowledge.DecodeReply(rf, raw); err != nil {
		return knowledge.FAQ{}, fmt.Errorf("faq %s: %w", f.ID, err)
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return knowledge.FAQ{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return f, nil
}

func nullablePayload(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// --- Aliases ---

// AddAlias attaches alias to an existing entry. The normalized alias text is
// unique across all entries; a collision returns ErrDuplicate.
func (s *Store) AddAlias(ctx context.Context, faqID, alias string) (knowledge.Alias, error) {
	if strings.TrimSpace(alias) == "" {
		return knowledge.Alias{}, fmt.Errorf("alias is empty")
	}
	if _, err := s.GetFAQ(ctx, faqID); err != nil {
		return knowledge.Alias{}, err
	}
	a := knowledge.Alias{ID: uuid.New().String(), FAQID: faqID, Alias: alias, UpdatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faq_aliases (id, faq_id, alias, alias_norm, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.FAQID, a.Alias, knowledge.Normalize(a.Alias), formatTime(a.UpdatedAt), formatTime(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return knowledge.Alias{}, fmt.Errorf("alias %q: %w", alias, ErrDuplicate)
	}
	if err != nil {
		return knowledge.Alias{}, fmt.Errorf("inserting alias: %w", err)
	}
	return a, nil
}

// ListAliases returns every alias, most recently updated first.
func (s *Store) ListAliases(ctx context.Context) ([]knowledge.Alias, error) {
	return s.queryAliases(ctx, `SELECT id, faq_id, alias, updated_at FROM faq_aliases ORDER BY updated_at DESC, id ASC`)
}

// AliasesForFAQ returns the aliases of one entry.
func (s *Store) AliasesForFAQ(ctx context.Context, faqID string) ([]knowledge.Alias, error) {
	return s.queryAliases(ctx, `SELECT id, faq_id, alias, updated_at FROM faq_aliases WHERE faq_id = ? ORDER BY updated_at DESC, id ASC`, faqID)
}

func (s *Store) queryAliases(ctx context.Context, query string, args ...any) ([]knowledge.Alias, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Alias
	for rows.Next() {
		var a knowledge.Alias
		var updatedAt string
		if err := rows.Scan(&a.ID, &a.FAQID, &a.Alias, &updatedAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAlias removes one alias and returns the owning FAQ ID.
func (s *Store) DeleteAlias(ctx context.Context, id string) (string, error) {
	var faqID string
	err := s.db.QueryRowContext(ctx, `SELECT faq_id FROM faq_aliases WHERE id = ?`, id).Scan(&faqID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM faq_aliases WHERE id = ?`, id)
	return faqID, affectedOne(res, err)
}

// --- Context snippets ---

// AddSnippet stores free-text grounding content.
func (s *Store) AddSnippet(ctx context.Context, content, source string) (knowledge.Snippet, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return knowledge.Snippet{}, fmt.Errorf("snippet content is empty")
	}
	sn := knowledge.Snippet{ID: uuid.New().String(), Content: content, Source: source, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `INSERT INTO context_snippets (id, content, source, created_at) VALUES (?, ?, ?, ?)`,
		sn.ID, sn.Content, sn.Source, formatTime(sn.CreatedAt))
	if err != nil {
		return knowledge.Snippet{}, fmt.Errorf("inserting snippet: %w", err)
	}
	return sn, nil
}

// ListSnippets returns every snippet, oldest first.
func (s *Store) ListSnippets(ctx context.Context) ([]knowledge.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, source, created_at FROM context_snippets ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	defer rows.Close()

	var out []knowledge.Snippet
	for rows.Next() {
		var sn knowledge.Snippet
		var createdAt string
		if err := rows.Scan(&sn.ID, &sn.Content, &sn.Source, &createdAt); err != nil {
			return nil, err
		}
		if sn.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSnippet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM context_snippets WHERE id = ?`, id)
	return affectedOne(res, err)
}

// affectedOne maps an exec result touching zero rows to ErrNotFound.
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
