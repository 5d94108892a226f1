package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zapfluxo/zapfluxo/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := NewLog(db)
	if err != nil {
		t.Fatalf("failed to create audit log: %v", err)
	}
	return l
}

func TestAppendAndList(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	first := &Entry{ChatID: "u1", ActionType: "RESPONDER", Text: "olá"}
	if err := l.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	second := &Entry{ChatID: "u2", IntentID: "greeting", IntentScore: 0.93, ActionType: "ASSISTANT_GPT"}
	if err := l.Append(ctx, second); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := l.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ChatID != "u2" {
		t.Fatalf("expected newest first, got %q", entries[0].ChatID)
	}
	if entries[0].IntentScore != 0.93 {
		t.Fatalf("intent score lost: %v", entries[0].IntentScore)
	}
}

func TestListByChat(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for _, chat := range []string{"a", "b", "a"} {
		if err := l.Append(ctx, &Entry{ChatID: chat, ActionType: "TAG"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := l.ListByChat(ctx, "a", 0)
	if err != nil {
		t.Fatalf("list by chat: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for chat a, got %d", len(entries))
	}
}
