package handlers

import (
	"context"
	"log/slog"
	"strings"
)

// logAdvisoryQuery asks the model which SQL query would answer utterance
// against schema and logs it at debug level. The query is never executed and
// failures are ignored; the handler always grounds in a full snapshot.
func logAdvisoryQuery(ctx context.Context, llm Completer, table, schema, utterance string) {
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return
	}
	prompt := "Given this PostgreSQL table:\n" + schema +
		"\n\nWrite one read-only SELECT statement that would answer the guest question below. " +
		"Reply with the SQL only.\n\nGuest question: " + utterance
	query, err := llm.Complete(ctx, prompt, nil)
	if err != nil {
		slog.Debug("advisory query failed", "table", table, "error", err)
		return
	}
	slog.Debug("advisory query", "table", table, "sql", strings.TrimSpace(query))
}
