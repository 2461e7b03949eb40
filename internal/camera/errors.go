package camera

import (
	"errors"
	"fmt"
	"time"

	"mvcam/internal/driver"
)

var (
	ErrDriver           = errors.New("ドライバーエラー")
	ErrOpen             = errors.New("デバイスを開けません")
	ErrStreamStart      = errors.New("ストリーミングを開始できません")
	ErrTimeout          = errors.New("フレーム取得がタイムアウト")
	ErrCapture          = errors.New("フレーム取得に失敗")
	ErrParameter        = errors.New("パラメータ操作に失敗")
	ErrInvalidState     = errors.New("現在の状態では実行できません")
	ErrDeviceIndex      = errors.New("デバイス番号が範囲外")
	ErrBufferTooSmall   = errors.New("バッファが小さすぎます")
	ErrCaptureCancelled = errors.New("フレーム取得が中断されました")
	ErrCaptureBusy      = errors.New("別のフレーム取得が実行中")
	ErrSessionNotFound  = errors.New("セッションが見つかりません")
	ErrDeviceInUse      = errors.New("デバイスは既に使用中")
)

// DriverError はドライバーが返した失敗ステータスを表す
type DriverError struct {
	Op   string
	Code driver.Status
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: ドライバーが失敗を返しました (%s)", e.Op, e.Code)
}

func (e *DriverError) Is(target error) bool {
	return target == ErrDriver
}

// statusError は失敗ステータスを DriverError に変換する。成功時は nil
func statusError(op driver.Op, st driver.Status) error {
	if st.OK() {
		return nil
	}
	return &DriverError{Op: string(op), Code: st}
}

// OpenError はデバイスを開く処理の失敗を表す
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("デバイス %s を開けません: %v", e.Device, e.Err)
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }
func (e *OpenError) Unwrap() error        { return e.Err }

// StreamStartError はストリーミング開始の失敗を表す
type StreamStartError struct {
	Err error
}

func (e *StreamStartError) Error() string {
	return fmt.Sprintf("ストリーミングを開始できません: %v", e.Err)
}

func (e *StreamStartError) Is(target error) bool { return target == ErrStreamStart }
func (e *StreamStartError) Unwrap() error        { return e.Err }

// TimeoutError は指定時間内にフレームが届かなかったことを表す
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v 以内にフレームが届きませんでした", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Err }

// CaptureError はタイムアウト以外のフレーム取得失敗を表す
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("フレーム取得に失敗: %v", e.Err)
}

func (e *CaptureError) Is(target error) bool { return target == ErrCapture }
func (e *CaptureError) Unwrap() error        { return e.Err }

// ParameterError はパラメータの取得・設定の失敗を表す
type ParameterError struct {
	Name  string
	Value *int64 // 設定時のみ
	Err   error
}

func (e *ParameterError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("パラメータ %s に %d を設定できません: %v", e.Name, *e.Value, e.Err)
	}
	return fmt.Sprintf("パラメータ %s を取得できません: %v", e.Name, e.Err)
}

func (e *ParameterError) Is(target error) bool { return target == ErrParameter }
func (e *ParameterError) Unwrap() error        { return e.Err }

// InvalidStateError は現在の状態で許可されない操作を表す
type InvalidStateError struct {
	Attempted string
	Current   State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s は %s 状態では実行できません", e.Attempted, e.Current)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
