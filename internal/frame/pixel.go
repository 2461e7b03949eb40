package frame

import (
	"fmt"
	"sort"
	"strings"
)

// PixelFormat はGenICam PFNCのピクセル形式タグ
type PixelFormat uint32

const (
	Unknown PixelFormat = 0

	Mono8  PixelFormat = 0x01080001
	Mono10 PixelFormat = 0x01100003 // 16bit格納（アンパック）
	Mono12 PixelFormat = 0x01100005 // 16bit格納（アンパック）
	Mono16 PixelFormat = 0x01100007

	BayerGR8 PixelFormat = 0x01080008
	BayerRG8 PixelFormat = 0x01080009
	BayerGB8 PixelFormat = 0x0108000A
	BayerBG8 PixelFormat = 0x0108000B

	RGB8  PixelFormat = 0x02180014
	BGR8  PixelFormat = 0x02180015
	RGBA8 PixelFormat = 0x02200016
	BGRA8 PixelFormat = 0x02200017

	YUV422UYVY PixelFormat = 0x0210001F
	YUV422YUYV PixelFormat = 0x02100032
)

// Layout は画素データの並び
type Layout int

const (
	LayoutMono Layout = iota
	LayoutBayer
	LayoutRGB
	LayoutBGR
	LayoutRGBA
	LayoutBGRA
	LayoutYUYV
	LayoutUYVY
)

// Format は既知のピクセル形式の属性
type Format struct {
	PixelFormat   PixelFormat
	Name          string
	BytesPerPixel int
	Channels      int
	BitDepth      int // 1チャンネルあたりの有効ビット数
	Layout        Layout
}

var formats = map[PixelFormat]Format{
	Mono8:      {Mono8, "Mono8", 1, 1, 8, LayoutMono},
	Mono10:     {Mono10, "Mono10", 2, 1, 10, LayoutMono},
	Mono12:     {Mono12, "Mono12", 2, 1, 12, LayoutMono},
	Mono16:     {Mono16, "Mono16", 2, 1, 16, LayoutMono},
	BayerGR8:   {BayerGR8, "BayerGR8", 1, 1, 8, LayoutBayer},
	BayerRG8:   {BayerRG8, "BayerRG8", 1, 1, 8, LayoutBayer},
	BayerGB8:   {BayerGB8, "BayerGB8", 1, 1, 8, LayoutBayer},
	BayerBG8:   {BayerBG8, "BayerBG8", 1, 1, 8, LayoutBayer},
	RGB8:       {RGB8, "RGB8Packed", 3, 3, 8, LayoutRGB},
	BGR8:       {BGR8, "BGR8Packed", 3, 3, 8, LayoutBGR},
	RGBA8:      {RGBA8, "RGBA8Packed", 4, 4, 8, LayoutRGBA},
	BGRA8:      {BGRA8, "BGRA8Packed", 4, 4, 8, LayoutBGRA},
	YUV422UYVY: {YUV422UYVY, "YUV422_8_UYVY", 2, 3, 8, LayoutUYVY},
	YUV422YUYV: {YUV422YUYV, "YUV422_8", 2, 3, 8, LayoutYUYV},
}

// Lookup はタグに対応するFormatを返す。未知のタグは false
func Lookup(tag uint32) (Format, bool) {
	f, ok := formats[PixelFormat(tag)]
	return f, ok
}

// BytesPerPixel は既知の形式の1画素あたりのバイト数を返す
func BytesPerPixel(tag uint32) (int, bool) {
	f, ok := formats[PixelFormat(tag)]
	if !ok {
		return 0, false
	}
	return f.BytesPerPixel, true
}

// Known は既知の形式をタグ順に返す
func Known() []Format {
	list := make([]Format, 0, len(formats))
	for _, f := range formats {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PixelFormat < list[j].PixelFormat })
	return list
}

// ParsePixelFormat は形式名（大文字小文字を区別しない）からPixelFormatを返す
func ParsePixelFormat(name string) (PixelFormat, bool) {
	for tag, f := range formats {
		if strings.EqualFold(f.Name, name) {
			return tag, true
		}
	}
	switch strings.ToLower(name) {
	case "rgb8":
		return RGB8, true
	case "bgr8":
		return BGR8, true
	case "yuyv":
		return YUV422YUYV, true
	case "uyvy":
		return YUV422UYVY, true
	}
	return Unknown, false
}

func (p PixelFormat) String() string {
	if f, ok := formats[p]; ok {
		return f.Name
	}
	return fmt.Sprintf("Unknown(0x%08X)", uint32(p))
}

// Known は既知の形式かどうかを返す
func (p PixelFormat) Known() bool {
	_, ok := formats[p]
	return ok
}
