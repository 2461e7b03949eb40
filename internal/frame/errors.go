package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat は未知のピクセル形式
	ErrUnsupportedFormat = errors.New("未対応のピクセル形式")

	// ErrMalformedFrame はサイズや寸法が不正なフレーム
	ErrMalformedFrame = errors.New("不正なフレーム")
)

// UnsupportedFormatError はデコードできないピクセル形式タグを表す
type UnsupportedFormatError struct {
	Tag uint32
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("未対応のピクセル形式: 0x%08X", e.Tag)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// MalformedFrameError はバッファ長や寸法がピクセル形式と一致しないフレームを表す
type MalformedFrameError struct {
	Width    int
	Height   int
	Format   PixelFormat
	Expected int
	Actual   int
	Reason   string
}

func (e *MalformedFrameError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("不正なフレーム (%dx%d %s): %s", e.Width, e.Height, e.Format, e.Reason)
	}
	return fmt.Sprintf("不正なフレーム (%dx%d %s): %d バイト必要ですが %d バイトです",
		e.Width, e.Height, e.Format, e.Expected, e.Actual)
}

func (e *MalformedFrameError) Is(target error) bool {
	return target == ErrMalformedFrame
}
