package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agenttrace/internal/store"
	"agenttrace/internal/trace"
)

func testSession(id string, updated time.Time) *trace.Session {
	sess := &trace.Session{
		SessionID: id,
		Agent:     trace.Agent{Tool: "claude-code"},
	}
	sess.Context.Title = "Refactor the watcher"
	sess.Context.CreatedAt = updated.Add(-time.Minute)
	sess.Context.UpdatedAt = updated
	sess.Events = []trace.Event{
		{
			ID:        "evt-1",
			Timestamp: updated.Add(-time.Minute),
			Type:      trace.EventUserMessage,
			Content:   trace.TextContent("hello"),
		},
		{
			ID:        "evt-2",
			Timestamp: updated,
			Type:      trace.EventAgentMessage,
			Content:   trace.TextContent("done"),
		},
	}
	sess.Finalize()
	return sess
}

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpsertAndGet(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	sess := testSession("sess-cache-1", time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))
	sum := store.Summarize(sess, "/tmp/sess-cache-1.jsonl", "claude", 0)
	if err := c.Upsert(ctx, sum, sess); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := c.Get(ctx, "sess-cache-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SessionID != sess.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, sess.SessionID)
	}
	if got.Context.Title != "Refactor the watcher" {
		t.Errorf("Title = %q", got.Context.Title)
	}
	if len(got.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(got.Events))
	}
	if got.Events[1].Text() != "done" {
		t.Errorf("Events[1].Text() = %q", got.Events[1].Text())
	}
	if got.Stats.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.Stats.MessageCount)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	sess := testSession("sess-cache-1", time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))
	sum := store.Summarize(sess, "/tmp/sess-cache-1.jsonl", "claude", 0)
	if err := c.Upsert(ctx, sum, sess); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	sess.Context.Title = "Refactor the watcher, round two"
	sum = store.Summarize(sess, "/tmp/sess-cache-1.jsonl", "claude", 0)
	if err := c.Upsert(ctx, sum, sess); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	summaries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].Title != "Refactor the watcher, round two" {
		t.Errorf("Title = %q, want the updated title", summaries[0].Title)
	}
}

func TestListOrdersByUpdatedAt(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	older := testSession("sess-older", time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC))
	newer := testSession("sess-newer", time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC))
	for _, sess := range []*trace.Session{older, newer} {
		sum := store.Summarize(sess, "/tmp/"+sess.SessionID+".jsonl", "claude", 0)
		if err := c.Upsert(ctx, sum, sess); err != nil {
			t.Fatalf("Upsert(%s) error = %v", sess.SessionID, err)
		}
	}

	summaries, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
	if summaries[0].SessionID != "sess-newer" || summaries[1].SessionID != "sess-older" {
		t.Errorf("order = [%s, %s], want newest first",
			summaries[0].SessionID, summaries[1].SessionID)
	}
	if summaries[0].EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", summaries[0].EventCount)
	}
	if summaries[0].DurationMS != time.Minute.Milliseconds() {
		t.Errorf("DurationMS = %d, want %d", summaries[0].DurationMS, time.Minute.Milliseconds())
	}
}

func TestDeleteAndMissingGet(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	sess := testSession("sess-gone", time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC))
	sum := store.Summarize(sess, "/tmp/sess-gone.jsonl", "claude", 0)
	if err := c.Upsert(ctx, sum, sess); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := c.Delete(ctx, "sess-gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, "sess-gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	// Deleting twice must stay quiet.
	if err := c.Delete(ctx, "sess-gone"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}
