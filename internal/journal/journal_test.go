package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	opened := time.Now().Truncate(time.Millisecond)

	err := j.RecordSessionOpened(ctx, SessionRecord{
		ID: "s1", Device: "gige:SIM00000001", Model: "MV-CA013-20GC", Serial: "SIM00000001", OpenedAt: opened,
	})
	if err != nil {
		t.Fatalf("RecordSessionOpened failed: %v", err)
	}

	rec, err := j.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !rec.OpenedAt.Equal(opened) || rec.ClosedAt != nil {
		t.Errorf("Unexpected record: %+v", rec)
	}

	closed := opened.Add(time.Minute)
	if err := j.RecordSessionClosed(ctx, "s1", closed); err != nil {
		t.Fatalf("RecordSessionClosed failed: %v", err)
	}
	rec, _ = j.Session(ctx, "s1")
	if rec.ClosedAt == nil || !rec.ClosedAt.Equal(closed) {
		t.Errorf("Expected closed_at %v, got %v", closed, rec.ClosedAt)
	}

	if err := j.RecordSessionClosed(ctx, "s1", closed); err == nil {
		t.Error("Expected error when closing an already closed session")
	}
	if _, err := j.Session(ctx, "unknown"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestJournal_Captures(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)
	j.RecordSessionOpened(ctx, SessionRecord{ID: "s1", Device: "usb3:SIM00000002", OpenedAt: time.Now()})

	base := time.Now().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		id, err := j.RecordCapture(ctx, Capture{
			SessionID:   "s1",
			FrameNumber: uint32(i),
			Width:       64,
			Height:      48,
			PixelFormat: "RGB8Packed",
			Path:        "frames/s1/" + string(rune('a'+i)) + ".png",
			CapturedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordCapture failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("Expected positive id, got %d", id)
		}
	}

	captures, err := j.Captures(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("Captures failed: %v", err)
	}
	if len(captures) != 3 {
		t.Fatalf("Expected 3 captures, got %d", len(captures))
	}
	if captures[0].FrameNumber != 4 || captures[2].FrameNumber != 2 {
		t.Errorf("Expected newest first, got frames %d..%d", captures[0].FrameNumber, captures[2].FrameNumber)
	}
	if !captures[0].CapturedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("Unexpected captured_at: %v", captures[0].CapturedAt)
	}

	none, err := j.Captures(ctx, "other", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no captures for other session, got %d (%v)", len(none), err)
	}
}

func TestJournal_CaptureRequiresSession(t *testing.T) {
	j := openJournal(t)
	_, err := j.RecordCapture(context.Background(), Capture{SessionID: "missing", Width: 1, Height: 1, PixelFormat: "Mono8"})
	if err == nil {
		t.Error("Expected foreign key violation for unknown session")
	}
}

func TestJournal_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.RecordSessionOpened(ctx, SessionRecord{ID: "s1", Device: "d", OpenedAt: time.Now()})
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer j.Close()
	if _, err := j.Session(ctx, "s1"); err != nil {
		t.Errorf("Expected session to survive reopen, got %v", err)
	}
}
