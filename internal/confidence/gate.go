// Package confidence rejects generated answers that do not actually address
// the guest's question.
package confidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hotelbook/concierge/internal/knowledge"
)

const (
	// DefaultFloor is the lowest score that still accepts an answer.
	DefaultFloor = 5
	// NeutralScore is used when the model's rating cannot be parsed.
	NeutralScore = 5
)

// Completer is the single language-model capability the gate needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []knowledge.Turn) (string, error)
}

// Verdict is the outcome of scoring one answer.
type Verdict struct {
	Score    int
	Parsed   bool
	Accepted bool
}

// Gate scores an answer 1-10 with a language model and accepts it when the
// score reaches the floor.
type Gate struct {
	llm   Completer
	floor int
}

// NewGate returns a Gate with the given floor (DefaultFloor when <= 0).
func NewGate(llm Completer, floor int) *Gate {
	if floor <= 0 {
		floor = DefaultFloor
	}
	return &Gate{llm: llm, floor: floor}
}

// Evaluate rates answer against question. A blank answer is rejected without
// calling the model. An unparsable rating counts as NeutralScore. Only a
// failed model call returns an error.
func (g *Gate) Evaluate(ctx context.Context, question, answer string) (Verdict, error) {
	if strings.TrimSpace(answer) == "" {
		return Verdict{}, nil
	}
	resp, err := g.llm.Complete(ctx, buildPrompt(question, answer), nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("scoring answer: %w", err)
	}
	score, ok := ParseScore(resp)
	if !ok {
		slog.Debug("confidence: unparsable rating, using neutral score", "resp", resp)
		score = NeutralScore
	}
	return Verdict{Score: score, Parsed: ok, Accepted: score >= g.floor}, nil
}

func buildPrompt(question, answer string) string {
	return "Rate from 1 to 10 how directly, specifically and completely the answer below addresses the guest's question.\n" +
		"Answers that refuse, deflect, hedge, say they cannot help, or tell the guest to ask someone else score 1-3.\n" +
		"Answers that give the specific information asked for score 8-10.\n\n" +
		"Question: " + question + "\n" +
		"Answer: " + answer + "\n\n" +
		`Respond with only a JSON object: {"score": <integer 1-10>}`
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseScore extracts a 1-10 rating from a model response. Small models
// often wrap JSON in markdown fences or answer with a bare number or
// "7/10", so the parser:
//  1. strips markdown code fences
//  2. tries the first {...} object as {"score": n}
//  3. falls back to the first number in the text
//
// Ratings are rounded to the nearest integer; values outside 1-10 are
// rejected.
func ParseScore(resp string) (int, bool) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start != -1 && end > start {
		var obj struct {
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err == nil && obj.Score != nil {
			return inRange(*obj.Score)
		}
	}

	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return inRange(f)
}

func inRange(f float64) (int, bool) {
	n := int(math.Round(f))
	if n < 1 || n > 10 {
		return 0, false
	}
	return n, true
}
