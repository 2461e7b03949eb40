package camera

import (
	"fmt"

	"mvcam/internal/driver"
)

// State はカメラセッションの状態を表す
type State int

const (
	StateClosed    State = iota // デバイスは閉じている
	StateOpened                 // デバイスを開いている（取得停止中）
	StateStreaming              // 画像取得中
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText は状態を文字列としてJSONなどに出力する
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は MarshalText の出力を状態に戻す
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateClosed, StateOpened, StateStreaming} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("不明な状態: %q", text)
}

// Transport はデバイスの接続方式
type Transport string

const (
	TransportGigE    Transport = "gige"
	TransportUSB     Transport = "usb3"
	TransportUnknown Transport = "unknown"
)

func transportOf(mask driver.TransportMask) Transport {
	switch mask {
	case driver.TransportGigE:
		return TransportGigE
	case driver.TransportUSB:
		return TransportUSB
	default:
		return TransportUnknown
	}
}

// DeviceInfo は列挙されたデバイスの情報（不変）
type DeviceInfo struct {
	Index     int       `json:"index"`
	Transport Transport `json:"transport"`
	Model     string    `json:"model"`
	UserName  string    `json:"user_name,omitempty"`
	Serial    string    `json:"serial"`
	Address   string    `json:"address,omitempty"` // GigE のみ

	raw driver.DeviceInfoRaw
}

func newDeviceInfo(raw driver.DeviceInfoRaw) DeviceInfo {
	return DeviceInfo{
		Transport: transportOf(raw.Transport),
		Model:     raw.ModelName,
		UserName:  raw.UserDefinedName,
		Serial:    raw.SerialNumber,
		Address:   raw.IPAddress,
		raw:       raw,
	}
}

// Label は表示名を返す。ユーザー定義名、モデル名の順に優先する
func (d DeviceInfo) Label() string {
	if d.UserName != "" {
		return d.UserName
	}
	return d.Model
}

// Key はデバイスを一意に識別する文字列
func (d DeviceInfo) Key() string {
	return string(d.Transport) + ":" + d.Serial
}

func (d DeviceInfo) String() string {
	s := fmt.Sprintf("[%d] %s %s (%s)", d.Index, d.Transport, d.Label(), d.Serial)
	if d.Address != "" {
		s += " " + d.Address
	}
	return s
}

// FrameGeometry はストリーミング開始時に確定するフレームの寸法と形式
type FrameGeometry struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelFormat uint32 `json:"pixel_format"`

	// PayloadSize はデバイスが報告した1フレームの最大バイト数（未対応なら0）
	PayloadSize int `json:"payload_size"`

	bytesPerPixel int
}

// FrameSize は width*height*bpp を返す
func (g FrameGeometry) FrameSize() int {
	return g.Width * g.Height * g.bytesPerPixel
}

// BufferSize は取得バッファに必要な最大サイズを返す
func (g FrameGeometry) BufferSize() int {
	if g.PayloadSize > g.FrameSize() {
		return g.PayloadSize
	}
	return g.FrameSize()
}
