// Package recorder はストリーミング中のセッションから一定間隔でフレームを取得し、
// 画像ファイルとして保存して履歴に記録する
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mvcam/internal/camera"
	"mvcam/internal/frame"
	"mvcam/internal/journal"
	"mvcam/internal/log"
)

// dayLayout は日付ディレクトリの形式
const dayLayout = "20060102"

// ErrRecording は記録中のセッションで Start が呼ばれたことを表す
var ErrRecording = errors.New("既に記録中です")

// Source は Recorder が必要とするセッションの操作
type Source interface {
	ID() string
	NewFrameBuffer() ([]byte, error)
	CaptureFrame(ctx context.Context, buf []byte, timeout time.Duration) (*frame.RawFrame, error)
}

// Sink は保存したフレームの記録先
type Sink interface {
	RecordCapture(ctx context.Context, c journal.Capture) (int64, error)
}

// Recorder は1つのセッションの定期取得を管理する
type Recorder struct {
	source Source
	sink   Sink
	config Config
	logger *slog.Logger

	// 状態
	runID     string
	status    Status
	frames    int
	failures  int
	lastFrame time.Time
	lastPath  string
	lastErr   string
	buf       []byte

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	capture sync.Mutex // 取得バッファの排他
}

// New は新しいRecorderを作成する。sink は nil でもよい
func New(source Source, sink Sink, config Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = log.L()
	}
	return &Recorder{
		source: source,
		sink:   sink,
		config: config,
		logger: logger.With("session", source.ID()),
		status: StatusIdle,
	}
}

// Start は定期取得を開始する
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRecording {
		return fmt.Errorf("%w: セッション %s", ErrRecording, r.source.ID())
	}
	if err := r.config.Validate(); err != nil {
		return fmt.Errorf("設定が無効: %w", err)
	}
	if _, err := frame.ParseImageFormat(r.config.Format); err != nil {
		return err
	}

	buf, err := r.source.NewFrameBuffer()
	if err != nil {
		return fmt.Errorf("取得バッファの確保に失敗: %w", err)
	}

	if err := os.MkdirAll(r.sessionDir(), 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	// エラーで終了した前回の実行の残りを止める
	if r.stopCh != nil {
		close(r.stopCh)
	}

	r.buf = buf
	r.runID = uuid.New().String()
	r.status = StatusRecording
	r.frames, r.failures = 0, 0
	r.lastErr = ""
	r.stopCh = make(chan struct{})

	if n, err := r.cleanupOld(time.Now()); err != nil {
		r.logger.Warn("古いフレームの削除に失敗しました", "error", err)
	} else if n > 0 {
		r.logger.Info("古いフレームを削除しました", "days", n)
	}

	r.wg.Add(1)
	go r.captureFrames(ctx, r.stopCh)

	r.wg.Add(1)
	go r.retentionScheduler(ctx, r.stopCh)

	r.logger.Info("定期取得を開始しました", "run", r.runID, "interval", r.config.Interval.String(), "dir", r.sessionDir())
	return nil
}

// Stop は定期取得を停止する
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.stopCh)
	r.stopCh = nil
	r.mu.Unlock()

	// ワーカーゴルーチンの終了を待機
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		r.logger.Warn("ワーカーゴルーチンの停止がタイムアウトしました")
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	if r.status == StatusRecording {
		r.status = StatusIdle
	}
	r.mu.Unlock()

	r.logger.Info("定期取得を停止しました")
	return nil
}

// Status は現在の状態を返す
func (r *Recorder) Status() StatusInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return StatusInfo{
		RunID:     r.runID,
		SessionID: r.source.ID(),
		Status:    r.status,
		Frames:    r.frames,
		Failures:  r.failures,
		LastFrame: r.lastFrame,
		LastPath:  r.lastPath,
		LastError: r.lastErr,
	}
}

// Config は設定を返す
func (r *Recorder) Config() Config {
	return r.config
}

// captureFrames はフレームを定期的に取得する
func (r *Recorder) captureFrames(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			_, err := r.CaptureOnce(ctx)
			if err == nil {
				continue
			}
			r.logger.Warn("フレーム取得エラー", "error", err)

			// セッションが取得できない状態になったら終了する
			if errors.Is(err, camera.ErrInvalidState) || errors.Is(err, camera.ErrCaptureCancelled) {
				r.mu.Lock()
				r.status = StatusError
				r.mu.Unlock()
				return
			}
		}
	}
}

// CaptureOnce は1フレームを取得して保存し、記録する
func (r *Recorder) CaptureOnce(ctx context.Context) (journal.Capture, error) {
	r.capture.Lock()
	defer r.capture.Unlock()

	if r.buf == nil {
		buf, err := r.source.NewFrameBuffer()
		if err != nil {
			return journal.Capture{}, r.fail(err)
		}
		r.buf = buf
	}

	raw, err := r.source.CaptureFrame(ctx, r.buf, r.config.CaptureTimeout)
	if err != nil {
		return journal.Capture{}, r.fail(err)
	}
	img, err := frame.Decode(raw)
	if err != nil {
		return journal.Capture{}, r.fail(err)
	}

	now := time.Now()
	path := r.framePath(now, raw.FrameNumber)
	if err := frame.Save(img.ToImage(), path); err != nil {
		return journal.Capture{}, r.fail(err)
	}

	c := journal.Capture{
		SessionID:   r.source.ID(),
		FrameNumber: raw.FrameNumber,
		Width:       img.Width,
		Height:      img.Height,
		PixelFormat: img.Format.Name,
		Path:        path,
		CapturedAt:  now,
	}
	if r.sink != nil {
		id, err := r.sink.RecordCapture(ctx, c)
		if err != nil {
			r.logger.Warn("取得履歴の記録に失敗しました", "error", err)
		}
		c.ID = id
	}

	r.mu.Lock()
	r.frames++
	r.lastFrame = now
	r.lastPath = path
	r.mu.Unlock()

	return c, nil
}

func (r *Recorder) fail(err error) error {
	r.mu.Lock()
	r.failures++
	r.lastErr = err.Error()
	r.mu.Unlock()
	return err
}

func (r *Recorder) sessionDir() string {
	return filepath.Join(r.config.OutputDir, r.source.ID())
}

// framePath は <出力先>/<セッション>/<yyyymmdd>/<時刻>_<フレーム番号>.<拡張子> を返す
func (r *Recorder) framePath(t time.Time, frameNumber uint32) string {
	ext := strings.ToLower(strings.TrimPrefix(r.config.Format, "."))
	if ext == "" {
		ext = "png"
	}
	name := fmt.Sprintf("%s-%03d_%08d.%s", t.Format("150405"), t.Nanosecond()/int(time.Millisecond), frameNumber, ext)
	return filepath.Join(r.sessionDir(), t.Format(dayLayout), name)
}

// retentionScheduler は毎日0時に古いフレームを削除する
func (r *Recorder) retentionScheduler(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	midnightTimer := time.NewTimer(time.Until(nextMidnight(time.Now())))
	defer midnightTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-midnightTimer.C:
			if _, err := r.cleanupOld(time.Now()); err != nil {
				r.logger.Warn("古いフレームの削除に失敗しました", "error", err)
			}
			midnightTimer.Reset(time.Until(nextMidnight(time.Now())))
		}
	}
}

// cleanupOld は保持期間を過ぎた日付ディレクトリを削除し、削除した数を返す
func (r *Recorder) cleanupOld(now time.Time) (int, error) {
	if r.config.RetentionDays == 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(r.sessionDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ディレクトリの読み取りに失敗: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := today.AddDate(0, 0, -r.config.RetentionDays)

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, entry.Name(), now.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(r.sessionDir(), entry.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// nextMidnight は次の0時の時刻を返す
func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
