package storage

import (
	"fmt"
	"testing"
)

func TestRecentTurns_OldestFirstWindow(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.AppendMessage(ctx, "sess-1", fmt.Sprintf("m%d", i), i%2 == 1); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if _, err := s.AppendMessage(ctx, "sess-2", "other", false); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	turns, err := s.RecentTurns(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	want := []string{"m2", "m3", "m4"}
	for i, w := range want {
		if turns[i].Text != w {
			t.Errorf("turn[%d] = %q, want %q", i, turns[i].Text, w)
		}
	}
	if !turns[1].IsBot || turns[0].IsBot {
		t.Errorf("speaker flags wrong: %+v", turns)
	}
}

func TestTakeover(t *testing.T) {
	s := openTestStore(t)

	on, err := s.IsTakenOver(ctx, "unknown")
	if err != nil || on {
		t.Fatalf("IsTakenOver(unknown) = %v, %v", on, err)
	}
	if err := s.SetTakeover(ctx, "sess-1", true); err != nil {
		t.Fatalf("SetTakeover: %v", err)
	}
	if on, _ := s.IsTakenOver(ctx, "sess-1"); !on {
		t.Error("expected takeover on")
	}
	if err := s.SetTakeover(ctx, "sess-1", false); err != nil {
		t.Fatalf("SetTakeover: %v", err)
	}
	if on, _ := s.IsTakenOver(ctx, "sess-1"); on {
		t.Error("expected takeover off")
	}
}
