package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mvcam/internal/camera"
	"mvcam/internal/driver"
	"mvcam/internal/journal"
	"mvcam/internal/log"
)

type memorySink struct {
	mu       sync.Mutex
	captures []journal.Capture
}

func (m *memorySink) RecordCapture(_ context.Context, c journal.Capture) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, c)
	return int64(len(m.captures)), nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

func streamingSession(t *testing.T) *camera.Session {
	t.Helper()
	ctx := context.Background()
	m := driver.NewMock(driver.SimulatedDevices()...)
	m.Initialize()
	devices, err := camera.NewRegistry(m).Enumerate(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	s, err := camera.Open(ctx, m, devices[0], driver.AccessExclusive,
		camera.WithLogger(log.Discard()), camera.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.StartStreaming(ctx); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	return s
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.CaptureTimeout = 500 * time.Millisecond
	cfg.OutputDir = t.TempDir()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero timeout", func(c *Config) { c.CaptureTimeout = 0 }},
		{"empty dir", func(c *Config) { c.OutputDir = "" }},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestRecorder_CaptureOnce(t *testing.T) {
	s := streamingSession(t)
	sink := &memorySink{}
	r := New(s, sink, testConfig(t), log.Discard())

	c, err := r.CaptureOnce(context.Background())
	if err != nil {
		t.Fatalf("CaptureOnce failed: %v", err)
	}
	if c.ID != 1 || c.SessionID != s.ID() {
		t.Errorf("Unexpected capture: %+v", c)
	}
	if c.Width != 64 || c.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", c.Width, c.Height)
	}
	if _, err := os.Stat(c.Path); err != nil {
		t.Errorf("Expected image file at %s: %v", c.Path, err)
	}
	if !strings.HasSuffix(c.Path, ".png") {
		t.Errorf("Expected png file, got %s", c.Path)
	}
	day := filepath.Base(filepath.Dir(c.Path))
	if day != c.CapturedAt.Format(dayLayout) {
		t.Errorf("Expected day directory %s, got %s", c.CapturedAt.Format(dayLayout), day)
	}
	if sink.count() != 1 {
		t.Errorf("Expected 1 recorded capture, got %d", sink.count())
	}

	st := r.Status()
	if st.Frames != 1 || st.LastPath != c.Path {
		t.Errorf("Unexpected status: %+v", st)
	}
}

func TestRecorder_StartStop(t *testing.T) {
	ctx := context.Background()
	s := streamingSession(t)
	sink := &memorySink{}
	r := New(s, sink, testConfig(t), log.Discard())

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("Expected error when starting twice")
	}
	if st := r.Status(); st.Status != StatusRecording || st.RunID == "" {
		t.Errorf("Unexpected status after start: %+v", st)
	}

	deadline := time.Now().Add(3 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() < 3 {
		t.Fatalf("Expected at least 3 captures, got %d", sink.count())
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st := r.Status(); st.Status != StatusIdle {
		t.Errorf("Expected idle after stop, got %s", st.Status)
	}
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
}

func TestRecorder_StartRequiresStreaming(t *testing.T) {
	s := streamingSession(t)
	s.StopStreaming()

	r := New(s, nil, testConfig(t), log.Discard())
	if err := r.Start(context.Background()); err == nil {
		t.Error("Expected Start to fail when session is not streaming")
	}
	if st := r.Status(); st.Status != StatusIdle {
		t.Errorf("Expected idle, got %s", st.Status)
	}
}

func TestRecorder_StopsWhenSessionStops(t *testing.T) {
	ctx := context.Background()
	s := streamingSession(t)
	r := New(s, nil, testConfig(t), log.Discard())

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.StopStreaming()

	deadline := time.Now().Add(3 * time.Second)
	for r.Status().Status != StatusError && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	st := r.Status()
	if st.Status != StatusError || st.LastError == "" {
		t.Errorf("Expected error status with message, got %+v", st)
	}
	r.Stop(ctx)
}

func TestRecorder_JPEGFormat(t *testing.T) {
	s := streamingSession(t)
	cfg := testConfig(t)
	cfg.Format = "jpg"
	r := New(s, nil, cfg, log.Discard())

	c, err := r.CaptureOnce(context.Background())
	if err != nil {
		t.Fatalf("CaptureOnce failed: %v", err)
	}
	if !strings.HasSuffix(c.Path, ".jpg") {
		t.Errorf("Expected jpg file, got %s", c.Path)
	}
}

func TestRecorder_CleanupOld(t *testing.T) {
	s := streamingSession(t)
	cfg := testConfig(t)
	cfg.RetentionDays = 7
	r := New(s, nil, cfg, log.Discard())

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.Local)
	dirs := map[string]bool{
		"20240301": false, // 削除される
		"20240312": false,
		"20240313": true,
		"20240320": true,
		"notadate": true,
	}
	for name := range dirs {
		if err := os.MkdirAll(filepath.Join(r.sessionDir(), name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	n, err := r.cleanupOld(now)
	if err != nil {
		t.Fatalf("cleanupOld failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 removed directories, got %d", n)
	}
	for name, keep := range dirs {
		_, err := os.Stat(filepath.Join(r.sessionDir(), name))
		if keep && err != nil {
			t.Errorf("Expected %s to be kept", name)
		}
		if !keep && err == nil {
			t.Errorf("Expected %s to be removed", name)
		}
	}
}

func TestRecorder_CleanupDisabled(t *testing.T) {
	s := streamingSession(t)
	cfg := testConfig(t)
	cfg.RetentionDays = 0
	r := New(s, nil, cfg, log.Discard())

	old := filepath.Join(r.sessionDir(), "20000101")
	os.MkdirAll(old, 0o755)

	if n, err := r.cleanupOld(time.Now()); err != nil || n != 0 {
		t.Errorf("Expected no cleanup, got %d (%v)", n, err)
	}
	if _, err := os.Stat(old); err != nil {
		t.Error("Expected directory to be kept when retention is disabled")
	}
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := nextMidnight(now); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
