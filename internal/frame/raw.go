package frame

import (
	"math"
	"time"
)

// RawFrame はドライバーから取得した未デコードのフレーム
//
// Data は取得に使ったバッファをフレーム長で切り出したもので、
// 次の取得で上書きされる可能性がある。
type RawFrame struct {
	Data        []byte
	Width       int
	Height      int
	PixelType   uint32
	FrameNumber uint32
	Timestamp   time.Time
}

// Format はフレームのピクセル形式を返す
func (r *RawFrame) Format() PixelFormat {
	return PixelFormat(r.PixelType)
}

// FrameSize は width*height*bpp を返す。オーバーフローする場合は false
func FrameSize(width, height, bytesPerPixel int) (int, bool) {
	if width <= 0 || height <= 0 || bytesPerPixel <= 0 {
		return 0, false
	}
	size := int64(width) * int64(height)
	if size > math.MaxInt32 {
		return 0, false
	}
	size *= int64(bytesPerPixel)
	if size > math.MaxInt32 {
		return 0, false
	}
	return int(size), true
}
