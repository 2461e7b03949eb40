package frame

import "time"

// Image はデコード済みのフレーム
//
// Pix は取得バッファから複製されるため、バッファの再利用後も有効。
type Image struct {
	Width       int
	Height      int
	Format      Format
	Channels    int
	Pix         []byte
	FrameNumber uint32
	Timestamp   time.Time
}

// Decode は RawFrame を検証して Image に変換する
//
// 未知のタグはバッファを読まずに UnsupportedFormatError を返す。
// 寸法とバッファ長が一致しない場合は画素に触れる前に MalformedFrameError を返す。
func Decode(raw *RawFrame) (*Image, error) {
	if raw == nil {
		return nil, &MalformedFrameError{Reason: "フレームがありません"}
	}

	f, ok := Lookup(raw.PixelType)
	if !ok {
		return nil, &UnsupportedFormatError{Tag: raw.PixelType}
	}

	malformed := func(reason string) error {
		return &MalformedFrameError{
			Width:  raw.Width,
			Height: raw.Height,
			Format: f.PixelFormat,
			Actual: len(raw.Data),
			Reason: reason,
		}
	}

	if raw.Width <= 0 || raw.Height <= 0 {
		return nil, malformed("幅と高さは正の値である必要があります")
	}
	if (f.Layout == LayoutYUYV || f.Layout == LayoutUYVY) && raw.Width%2 != 0 {
		return nil, malformed("YUV422 の幅は偶数である必要があります")
	}

	expected, ok := FrameSize(raw.Width, raw.Height, f.BytesPerPixel)
	if !ok {
		return nil, malformed("フレームサイズが大きすぎます")
	}
	if len(raw.Data) != expected {
		return nil, &MalformedFrameError{
			Width:    raw.Width,
			Height:   raw.Height,
			Format:   f.PixelFormat,
			Expected: expected,
			Actual:   len(raw.Data),
		}
	}

	pix := make([]byte, expected)
	copy(pix, raw.Data)

	return &Image{
		Width:       raw.Width,
		Height:      raw.Height,
		Format:      f,
		Channels:    f.Channels,
		Pix:         pix,
		FrameNumber: raw.FrameNumber,
		Timestamp:   raw.Timestamp,
	}, nil
}
