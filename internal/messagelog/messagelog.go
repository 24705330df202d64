// Package messagelog writes bot answers to a session's message log in the
// single-text-field format the chat client renders.
package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/storage"
)

// ErrPersist is returned when every write attempt failed.
var ErrPersist = errors.New("bot message not persisted")

// Defaults for Writer.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
)

// Appender adds one message to a session log.
type Appender interface {
	AppendMessage(ctx context.Context, sessionID, text string, isBot bool) (storage.Message, error)
}

type envelope struct {
	Text         string              `json:"text"`
	ResponseData *knowledge.Response `json:"responseData"`
}

// Serialize returns the stored text of resp. Plain messages are stored as
// their text; structured responses as {"text", "responseData"} JSON.
func Serialize(resp knowledge.Response) (string, error) {
	if !resp.IsStructured() {
		return resp.Text, nil
	}
	b, err := json.Marshal(envelope{Text: resp.Text, ResponseData: &resp})
	if err != nil {
		return "", fmt.Errorf("encoding structured message: %w", err)
	}
	return string(b), nil
}

// Parse is the inverse of Serialize. Text that is not a structured envelope
// is a plain message.
func Parse(stored string) knowledge.Response {
	var env envelope
	if err := json.Unmarshal([]byte(stored), &env); err != nil || env.ResponseData == nil {
		return knowledge.Message(stored)
	}
	return *env.ResponseData
}

// Writer persists bot answers, retrying transient failures with exponential
// backoff.
type Writer struct {
	store       Appender
	maxAttempts int
	initial     time.Duration
}

// NewWriter returns a Writer. Non-positive arguments use the defaults.
func NewWriter(store Appender, maxAttempts int, initial time.Duration) *Writer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	return &Writer{store: store, maxAttempts: maxAttempts, initial: initial}
}

// Persist appends resp as a bot message. Retrying is safe: each attempt
// writes the same serialized text. A cancelled ctx stops retrying.
func (w *Writer) Persist(ctx context.Context, sessionID string, resp knowledge.Response) (storage.Message, error) {
	text, err := Serialize(resp)
	if err != nil {
		return storage.Message{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.initial
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(w.maxAttempts-1)), ctx)

	var msg storage.Message
	attempt := 0
	op := func() error {
		attempt++
		m, err := w.store.AppendMessage(ctx, sessionID, text, true)
		if err != nil {
			return err
		}
		msg = m
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("messagelog: write failed, retrying", "session_id", sessionID, "attempt", attempt, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return storage.Message{}, fmt.Errorf("%w after %d attempts: %v", ErrPersist, attempt, err)
	}
	return msg, nil
}
