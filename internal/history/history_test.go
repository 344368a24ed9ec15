package history

import (
	"path/filepath"
	"testing"
	"time"
)

// The package opens its database once per process, so a single test drives
// the whole save/list flow.
func TestSaveAndList(t *testing.T) {
	t.Setenv("TRANSCRIPT_DB_PATH", filepath.Join(t.TempDir(), "transcript.db"))

	now := time.Now()
	Save(Entry{ConversationID: "conv-1", Role: "user", Content: "hello", CreatedAt: now})
	Save(Entry{ConversationID: "conv-1", MessageID: "m1", Role: "assistant", Content: "hi", Model: "text-davinci-002-render-sha", CreatedAt: now})
	Save(Entry{ConversationID: "conv-2", Role: "user", Content: "other", CreatedAt: now})

	got := List("conv-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "hello" {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].MessageID != "m1" {
		t.Fatalf("unexpected message id: %+v", got[1])
	}

	if entries := List("conv-3"); len(entries) != 0 {
		t.Fatalf("expected no entries for unknown conversation, got %d", len(entries))
	}
}
