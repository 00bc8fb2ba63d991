package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"meshgate/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "app.db")

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestMessageRepoInsert_IdempotentOnID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	m := domain.Message{
		ID:          "305419896",
		FromNodeNum: 0x11111111,
		ToNodeNum:   0x22222222,
		Text:        "hello",
		Channel:     domain.DirectChannel,
		Portnum:     "TEXT_MESSAGE_APP",
		RxTime:      now,
		CreatedAt:   now,
	}

	inserted, err := repo.Insert(ctx, m)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first insert to write a row")
	}

	// Same id arriving by another path carries different metadata; the
	// first write must win and the duplicate must report not-inserted.
	dup := m
	dup.Text = "hello (duplicate)"
	dup.RxTime = now.Add(time.Minute)
	inserted, err = repo.Insert(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate insert to be ignored")
	}

	got, err := repo.ByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got == nil || got.Text != "hello" {
		t.Fatalf("expected original text to survive duplicate, got %+v", got)
	}
	if !got.RxTime.Equal(now) {
		t.Fatalf("expected original rx time, got %v", got.RxTime)
	}
}

func TestMessageRepoDirect_OrdersByCoalescedTime(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	base := time.Now().UTC().Truncate(time.Millisecond)
	a, b := uint32(0xaaaa0001), uint32(0xbbbb0002)

	// Mix of rx-time-bearing and sender-timestamp-only messages across both
	// directions, plus one on a channel and one with a third node that must
	// be excluded from the conversation.
	insert := func(id string, from, to uint32, channel int, ts, rx time.Time) {
		t.Helper()
		if _, err := repo.Insert(ctx, domain.Message{
			ID: id, FromNodeNum: from, ToNodeNum: to,
			Channel: channel, Portnum: "TEXT_MESSAGE_APP",
			Timestamp: ts, RxTime: rx, CreatedAt: base,
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("1", a, b, domain.DirectChannel, time.Time{}, base.Add(1*time.Minute))
	insert("2", b, a, domain.DirectChannel, base.Add(3*time.Minute), time.Time{})
	insert("3", a, b, domain.DirectChannel, time.Time{}, base.Add(2*time.Minute))
	insert("4", a, b, 0, time.Time{}, base.Add(4*time.Minute))                             // channel message
	insert("5", a, 0xcccc0003, domain.DirectChannel, time.Time{}, base.Add(5*time.Minute)) // other peer

	page, err := repo.Direct(ctx, a, b, 10, 0)
	if err != nil {
		t.Fatalf("direct query: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(page.Messages))
	}
	wantOrder := []string{"2", "3", "1"}
	for i, want := range wantOrder {
		if page.Messages[i].ID != want {
			t.Fatalf("position %d: expected message %s, got %s", i, want, page.Messages[i].ID)
		}
	}
	if page.HasMore {
		t.Fatalf("expected no further pages")
	}
}

func TestMessageRepoByChannel_PaginationClampsAndHasMore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		if _, err := repo.Insert(ctx, domain.Message{
			ID:          fmt.Sprintf("msg-%d", i),
			FromNodeNum: 1,
			ToNodeNum:   domain.BroadcastNodeNum,
			Channel:     0,
			Portnum:     "TEXT_MESSAGE_APP",
			RxTime:      base.Add(time.Duration(i) * time.Minute),
			CreatedAt:   base,
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	// limit below the minimum clamps to 1 and signals more rows.
	page, err := repo.ByChannel(ctx, 0, 0, 0)
	if err != nil {
		t.Fatalf("by channel min clamp: %v", err)
	}
	if len(page.Messages) != 1 || !page.HasMore {
		t.Fatalf("expected 1 message and hasMore, got %d/%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].ID != "msg-4" {
		t.Fatalf("expected newest first, got %s", page.Messages[0].ID)
	}

	// Exact fit consumes the last row without promising more.
	page, err = repo.ByChannel(ctx, 0, 5, 0)
	if err != nil {
		t.Fatalf("by channel exact: %v", err)
	}
	if len(page.Messages) != 5 || page.HasMore {
		t.Fatalf("expected 5 messages without hasMore, got %d/%v", len(page.Messages), page.HasMore)
	}

	// Offset beyond the table is empty but not an error; negative offset
	// clamps to the start.
	page, err = repo.ByChannel(ctx, 0, 5, 100)
	if err != nil {
		t.Fatalf("by channel offset: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(page.Messages))
	}
	page, err = repo.ByChannel(ctx, 0, 2, -7)
	if err != nil {
		t.Fatalf("by channel negative offset: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != "msg-4" {
		t.Fatalf("expected clamp to offset 0, got %d messages", len(page.Messages))
	}
}

func TestMessageRepoDeliveryStateTransitions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewMessageRepo(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := repo.Insert(ctx, domain.Message{
		ID: "77", FromNodeNum: 1, ToNodeNum: 2,
		Channel: domain.DirectChannel, Portnum: "TEXT_MESSAGE_APP",
		RxTime: now, CreatedAt: now, WantAck: true,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ackFrom := uint32(2)
	if err := repo.SetDeliveryState(ctx, "77", domain.DeliveryConfirmed, &ackFrom); err != nil {
		t.Fatalf("set delivery state: %v", err)
	}
	got, err := repo.ByID(ctx, "77")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.DeliveryState != domain.DeliveryConfirmed {
		t.Fatalf("expected confirmed, got %s", got.DeliveryState)
	}
	if got.AckFromNode == nil || *got.AckFromNode != 2 {
		t.Fatalf("expected ack source node 2, got %v", got.AckFromNode)
	}

	if err := repo.MarkRoutingError(ctx, "77"); err != nil {
		t.Fatalf("mark routing error: %v", err)
	}
	got, err = repo.ByID(ctx, "77")
	if err != nil {
		t.Fatalf("by id after routing error: %v", err)
	}
	if !got.RoutingErrorReceived || got.DeliveryState != domain.DeliveryFailed {
		t.Fatalf("expected failed with routing error, got %+v", got)
	}
}
