package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/villagehq/village-core/core/session"
)

func terminalSession(id string) session.CallSession {
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ended := started.Add(12 * time.Minute)
	return session.CallSession{
		ID:        id,
		ElderID:   "elder-margaret",
		RoomName:  "margaret-room",
		Status:    session.StatusCompleted,
		StartedAt: started,
		EndedAt:   &ended,
		Summary:   "Pleasant call, talked about the garden.",
		Transcript: []session.TranscriptLine{
			{ID: "line-1", Speaker: "elder", Text: "The roses are blooming", SpokenAt: started},
		},
		LastSeq: 7,
	}
}

func TestArchiveAndLoadRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("expected store to open, got %v", err)
	}
	defer store.Close()

	if err := store.ArchiveSession(context.Background(), terminalSession("call-1")); err != nil {
		t.Fatalf("expected archive to succeed, got %v", err)
	}

	got, err := store.Load(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if got.Summary != "Pleasant call, talked about the garden." {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "The roses are blooming" {
		t.Fatalf("expected transcript to survive the round trip, got %+v", got.Transcript)
	}
	if got.LastSeq != 7 {
		t.Fatalf("expected last seq 7, got %d", got.LastSeq)
	}
}

func TestArchiveReplacesEarlierDocument(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("expected store to open, got %v", err)
	}
	defer store.Close()

	sess := terminalSession("call-1")
	if err := store.ArchiveSession(context.Background(), sess); err != nil {
		t.Fatalf("expected first archive to succeed, got %v", err)
	}
	sess.Summary = "Updated summary after late events."
	if err := store.ArchiveSession(context.Background(), sess); err != nil {
		t.Fatalf("expected re-archive to succeed, got %v", err)
	}

	got, err := store.Load(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if got.Summary != "Updated summary after late events." {
		t.Fatalf("expected the replacement document, got %q", got.Summary)
	}

	ids, err := store.ListByElder(context.Background(), "elder-margaret")
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one archived session, got %d", len(ids))
	}
}

func TestListByElderOrdersMostRecentFirst(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("expected store to open, got %v", err)
	}
	defer store.Close()

	older := terminalSession("call-old")
	older.StartedAt = older.StartedAt.Add(-24 * time.Hour)
	newer := terminalSession("call-new")
	for _, sess := range []session.CallSession{older, newer} {
		if err := store.ArchiveSession(context.Background(), sess); err != nil {
			t.Fatalf("expected archive to succeed, got %v", err)
		}
	}

	ids, err := store.ListByElder(context.Background(), "elder-margaret")
	if err != nil {
		t.Fatalf("expected list to succeed, got %v", err)
	}
	if len(ids) != 2 || ids[0] != "call-new" || ids[1] != "call-old" {
		t.Fatalf("expected [call-new call-old], got %v", ids)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("expected store to open, got %v", err)
	}
	if err := store1.ArchiveSession(context.Background(), terminalSession("call-1")); err != nil {
		t.Fatalf("expected archive to succeed, got %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("expected reopen to succeed, got %v", err)
	}
	defer store2.Close()

	if _, err := store2.Load(context.Background(), "call-1"); err != nil {
		t.Fatalf("expected session to persist across reopen, got %v", err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("expected store to open, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected double close to be safe, got %v", err)
	}
	if err := store.ArchiveSession(context.Background(), terminalSession("call-1")); err != ErrStoreClosed {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.Load(context.Background(), "call-1"); err != ErrStoreClosed {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
