package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"mvcam/internal/driver"
	"mvcam/internal/frame"
	"mvcam/internal/log"
)

// DefaultPollInterval はフレーム取得時に1回のドライバー呼び出しで待つ最大時間
const DefaultPollInterval = 100 * time.Millisecond

// Session は開いている1台のデバイスを表す
//
// 状態は Closed → Opened → Streaming と遷移する。Close は何度呼んでもよく、
// ドライバーのハンドルは必ず一度だけ破棄される。
// 同じハンドルへのドライバー呼び出しは Session 内で直列化される。
type Session struct {
	id           string
	drv          driver.Driver
	info         DeviceInfo
	mode         driver.AccessMode
	logger       *slog.Logger
	pollInterval time.Duration
	openedAt     time.Time

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	geometry  FrameGeometry
	capturing bool
	stopGen   uint64 // StopStreaming / Close のたびに増える
	handle    *handle
	cleanup   runtime.Cleanup

	io sync.Mutex // ドライバー呼び出しの直列化
}

// Option は Session の生成オプション
type Option func(*Session)

// WithLogger はセッションのロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval はフレーム取得のポーリング間隔を設定する
// StopStreaming はこの間隔以内に実行中の取得を中断させる
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Open はデバイスのハンドルを作成して開く
//
// 失敗した場合は作成途中のハンドルを破棄し、OpenError を返す。
func Open(ctx context.Context, drv driver.Driver, info DeviceInfo, mode driver.AccessMode, opts ...Option) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &OpenError{Device: info.String(), Err: err}
	}

	st, id := drv.CreateHandle(info.raw)
	if err := statusError(driver.OpCreateHandle, st); err != nil {
		return nil, &OpenError{Device: info.String(), Err: err}
	}
	h := newHandle(drv, id)

	if err := statusError(driver.OpOpenDevice, drv.OpenDevice(id, mode)); err != nil {
		if _, derr := h.release(false); derr != nil {
			err = errors.Join(err, derr)
		}
		return nil, &OpenError{Device: info.String(), Err: err}
	}

	s := &Session{
		id:           uuid.New().String(),
		drv:          drv,
		info:         info,
		mode:         mode,
		logger:       log.L(),
		pollInterval: DefaultPollInterval,
		openedAt:     time.Now(),
		state:        StateOpened,
		handle:       h,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id, "device", info.Key())

	// Close されずに回収されたセッションのハンドルを解放する
	logger := s.logger
	s.cleanup = runtime.AddCleanup(s, func(h *handle) {
		if first, err := h.release(true); first {
			logger.Warn("Close されていないセッションを回収しました", "error", err)
		}
	}, h)

	s.logger.Info("デバイスを開きました", "mode", mode.String(), "state", StateOpened.String())
	return s, nil
}

// ID はセッションの一意識別子を返す
func (s *Session) ID() string {
	return s.id
}

// Device は開いているデバイスの情報を返す
func (s *Session) Device() DeviceInfo {
	return s.info
}

// Mode はデバイスを開いたアクセスモードを返す
func (s *Session) Mode() driver.AccessMode {
	return s.mode
}

// OpenedAt はセッションを開いた時刻を返す
func (s *Session) OpenedAt() time.Time {
	return s.openedAt
}

// State は現在の状態を返す
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Geometry はストリーミング開始時に確定したフレーム情報を返す
func (s *Session) Geometry() (FrameGeometry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry, s.state == StateStreaming
}

// call はドライバー呼び出しを直列化して実行する
func (s *Session) call(fn func(h driver.Handle) driver.Status) driver.Status {
	s.io.Lock()
	defer s.io.Unlock()
	return fn(s.handle.id)
}

// requireOpen は Opened / Streaming 以外で InvalidStateError を返す（ロック済み前提）
func (s *Session) requireOpen(op string) error {
	if s.state == StateClosed {
		return &InvalidStateError{Attempted: op, Current: s.state}
	}
	return nil
}

// Parameter は整数パラメータを取得する
func (s *Session) Parameter(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("Parameter"); err != nil {
		return 0, err
	}
	return s.getInt(name)
}

func (s *Session) getInt(name string) (int64, error) {
	var v int64
	st := s.call(func(h driver.Handle) driver.Status {
		var st driver.Status
		st, v = s.drv.GetIntParameter(h, name)
		return st
	})
	if err := statusError(driver.OpGetParameter, st); err != nil {
		return 0, &ParameterError{Name: name, Err: err}
	}
	return v, nil
}

// SetParameter は整数パラメータを設定する
func (s *Session) SetParameter(name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("SetParameter"); err != nil {
		return err
	}

	st := s.call(func(h driver.Handle) driver.Status {
		return s.drv.SetIntParameter(h, name, value)
	})
	if err := statusError(driver.OpSetParameter, st); err != nil {
		return &ParameterError{Name: name, Value: &value, Err: err}
	}
	s.logger.Debug("パラメータを設定しました", "name", name, "value", value)
	return nil
}

// SaveFeatures はデバイス設定をファイルに保存する
func (s *Session) SaveFeatures(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("SaveFeatures"); err != nil {
		return err
	}
	st := s.call(func(h driver.Handle) driver.Status {
		return s.drv.SaveFeatures(h, path)
	})
	return statusError(driver.OpSaveFeatures, st)
}

// LoadFeatures はファイルからデバイス設定を読み込む
func (s *Session) LoadFeatures(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen("LoadFeatures"); err != nil {
		return err
	}
	st := s.call(func(h driver.Handle) driver.Status {
		return s.drv.LoadFeatures(h, path)
	})
	return statusError(driver.OpLoadFeatures, st)
}

// StartStreaming はフレーム情報を確定させて画像取得を開始する
//
// 失敗した場合は StreamStartError を返し、状態は Opened のまま。
func (s *Session) StartStreaming(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpened {
		return &InvalidStateError{Attempted: "StartStreaming", Current: s.state}
	}
	if err := ctx.Err(); err != nil {
		return &StreamStartError{Err: err}
	}

	geom, err := s.queryGeometry()
	if err != nil {
		return &StreamStartError{Err: err}
	}

	st := s.call(func(h driver.Handle) driver.Status {
		return s.drv.StartGrabbing(h)
	})
	if err := statusError(driver.OpStartGrabbing, st); err != nil {
		return &StreamStartError{Err: err}
	}

	s.geometry = geom
	s.state = StateStreaming
	s.logger.Info("ストリーミングを開始しました",
		"state", s.state.String(),
		"width", geom.Width,
		"height", geom.Height,
		"pixel_format", frame.PixelFormat(geom.PixelFormat).String())
	return nil
}

// queryGeometry は Width / Height / PixelFormat / PayloadSize を取得する（ロック済み前提）
func (s *Session) queryGeometry() (FrameGeometry, error) {
	width, err := s.getInt("Width")
	if err != nil {
		return FrameGeometry{}, err
	}
	height, err := s.getInt("Height")
	if err != nil {
		return FrameGeometry{}, err
	}
	format, err := s.getInt("PixelFormat")
	if err != nil {
		return FrameGeometry{}, err
	}

	geom := FrameGeometry{
		Width:       int(width),
		Height:      int(height),
		PixelFormat: uint32(format),
	}
	// PayloadSize に対応していないデバイスもある
	if payload, err := s.getInt("PayloadSize"); err == nil && payload > 0 {
		geom.PayloadSize = int(payload)
	}

	bpp, ok := frame.BytesPerPixel(geom.PixelFormat)
	if !ok && geom.PayloadSize == 0 {
		return FrameGeometry{}, &frame.UnsupportedFormatError{Tag: geom.PixelFormat}
	}
	geom.bytesPerPixel = bpp

	if _, ok := frame.FrameSize(geom.Width, geom.Height, max(bpp, 1)); !ok {
		return FrameGeometry{}, fmt.Errorf("不正なフレームサイズ: %dx%d", geom.Width, geom.Height)
	}
	return geom, nil
}

// requiredSize は取得バッファに最低限必要なバイト数
func (g FrameGeometry) requiredSize() int {
	if g.bytesPerPixel == 0 {
		return g.PayloadSize
	}
	return g.FrameSize()
}

// NewFrameBuffer は現在のフレーム情報に合わせた取得バッファを確保する
func (s *Session) NewFrameBuffer() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return nil, &InvalidStateError{Attempted: "NewFrameBuffer", Current: s.state}
	}
	return make([]byte, s.geometry.BufferSize()), nil
}

// CaptureFrame は1フレームを buf に取得する
//
// Streaming 以外ではドライバーを呼ばずに InvalidStateError を返す。
// timeout 以内に届かなければ TimeoutError を返す。timeout が0以下の場合も
// 待たずに一度だけドライバーに問い合わせる。
// 取得中に StopStreaming / Close が呼ばれた場合は、最後のフレームか
// ErrCaptureCancelled のいずれかを返す。
// 返される RawFrame.Data は buf の一部であり、次の取得で上書きされる。
func (s *Session) CaptureFrame(ctx context.Context, buf []byte, timeout time.Duration) (*frame.RawFrame, error) {
	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return nil, &InvalidStateError{Attempted: "CaptureFrame", Current: state}
	}
	if s.capturing {
		s.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	geom := s.geometry
	if need := geom.requiredSize(); len(buf) < need {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d バイト必要ですが %d バイトです", ErrBufferTooSmall, need, len(buf))
	}
	s.capturing = true
	gen := s.stopGen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.capturing = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	deadline := time.Now().Add(timeout)
	for polled := false; ; polled = true {
		if err := ctx.Err(); err != nil {
			return nil, &CaptureError{Err: err}
		}
		if s.cancelled(gen) {
			return nil, ErrCaptureCancelled
		}

		remaining := time.Until(deadline)
		if remaining <= 0 && polled {
			return nil, &TimeoutError{
				Timeout: timeout,
				Err:     &DriverError{Op: string(driver.OpGetFrame), Code: driver.StatusNoData},
			}
		}
		ms := uint32(min(max(remaining, 0), s.pollInterval) / time.Millisecond)
		if ms == 0 && remaining > 0 {
			ms = 1
		}

		var info driver.FrameInfo
		st := s.call(func(h driver.Handle) driver.Status {
			var st driver.Status
			st, info = s.drv.GetOneFrameTimeout(h, buf, ms)
			return st
		})
		switch {
		case st.OK():
			return rawFrame(buf, info, geom), nil
		case st == driver.StatusNoData:
			continue
		default:
			return nil, &CaptureError{Err: statusError(driver.OpGetFrame, st)}
		}
	}
}

func (s *Session) cancelled(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopGen != gen || s.state != StateStreaming
}

// rawFrame はドライバーの報告値を優先し、欠けている値はフレーム情報で補う
func rawFrame(buf []byte, info driver.FrameInfo, geom FrameGeometry) *frame.RawFrame {
	raw := &frame.RawFrame{
		Width:       int(info.Width),
		Height:      int(info.Height),
		PixelType:   info.PixelType,
		FrameNumber: info.FrameNumber,
		Timestamp:   time.UnixMilli(info.HostTimestamp),
	}
	if raw.Width == 0 || raw.Height == 0 {
		raw.Width, raw.Height = geom.Width, geom.Height
	}
	if raw.PixelType == 0 {
		raw.PixelType = geom.PixelFormat
	}
	if info.HostTimestamp == 0 {
		raw.Timestamp = time.Now()
	}

	n := int(info.FrameLen)
	if n == 0 || n > len(buf) {
		n = min(geom.requiredSize(), len(buf))
	}
	raw.Data = buf[:n]
	return raw
}

// StopStreaming は画像取得を停止する
//
// Opened では何もしない。実行中の取得があれば中断させ、その終了を待つ。
// 停止に失敗した場合は Streaming のまま。
func (s *Session) StopStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return &InvalidStateError{Attempted: "StopStreaming", Current: s.state}
	case StateOpened:
		return nil
	}
	return s.stopLocked()
}

// stopLocked は実行中の取得を中断させて取得を停止する（ロック済み前提）
func (s *Session) stopLocked() error {
	s.stopGen++
	for s.capturing {
		s.cond.Wait()
	}
	// 待機中に別の StopStreaming / Close が完了していれば何もしない
	if s.state != StateStreaming {
		return nil
	}

	st := s.call(func(h driver.Handle) driver.Status {
		return s.drv.StopGrabbing(h)
	})
	if err := statusError(driver.OpStopGrabbing, st); err != nil {
		s.logger.Warn("ストリーミングの停止に失敗しました", "error", err)
		return err
	}

	s.state = StateOpened
	s.logger.Info("ストリーミングを停止しました", "state", s.state.String())
	return nil
}

// Close はデバイスを閉じてハンドルを破棄する
//
// Streaming なら先に停止する。何度呼んでもよく、ドライバーのエラーは
// 最初の呼び出しでのみ返す。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	var errs []error
	if s.state == StateStreaming {
		if err := s.stopLocked(); err != nil {
			errs = append(errs, err)
		}
	}

	s.io.Lock()
	first, err := s.handle.release(true)
	s.io.Unlock()
	s.cleanup.Stop()
	s.state = StateClosed

	if first && err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Warn("デバイスのクローズ中にエラーが発生しました", "error", errors.Join(errs...))
		return errors.Join(errs...)
	}
	s.logger.Info("デバイスを閉じました", "state", s.state.String())
	return nil
}
