package frame

import (
	"image"
	"image/color"
)

// ToImage は Image を標準の image.Image に変換する
//
// モノクロは *image.Gray / *image.Gray16、それ以外は *image.NRGBA を返す。
// Bayer は 2x2 ブロック単位の最近傍補間で、色の正確さは保証しない。
func (img *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)

	switch img.Format.Layout {
	case LayoutMono:
		if img.Format.BytesPerPixel == 1 {
			gray := image.NewGray(rect)
			copy(gray.Pix, img.Pix)
			return gray
		}
		return img.toGray16(rect)
	case LayoutRGB, LayoutBGR, LayoutRGBA, LayoutBGRA:
		return img.toNRGBA(rect)
	case LayoutYUYV, LayoutUYVY:
		return img.yuvToNRGBA(rect)
	case LayoutBayer:
		return img.demosaic(rect)
	}
	return image.NewGray(rect)
}

// toGray16 はリトルエンディアンの16bit格納データを有効ビット数に応じて拡大する
func (img *Image) toGray16(rect image.Rectangle) *image.Gray16 {
	out := image.NewGray16(rect)
	shift := uint(16 - img.Format.BitDepth)
	for i := 0; i < img.Width*img.Height; i++ {
		v := uint16(img.Pix[2*i]) | uint16(img.Pix[2*i+1])<<8
		v <<= shift
		out.Pix[2*i] = byte(v >> 8)
		out.Pix[2*i+1] = byte(v)
	}
	return out
}

func (img *Image) toNRGBA(rect image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(rect)
	bpp := img.Format.BytesPerPixel
	for i := 0; i < img.Width*img.Height; i++ {
		src := img.Pix[i*bpp : i*bpp+bpp]
		dst := out.Pix[i*4 : i*4+4]
		switch img.Format.Layout {
		case LayoutRGB:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 0xff
		case LayoutBGR:
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], 0xff
		case LayoutRGBA:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], src[3]
		case LayoutBGRA:
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], src[3]
		}
	}
	return out
}

// yuvToNRGBA は YUV422 の2画素ごとのマクロピクセルを BT.601 で変換する
func (img *Image) yuvToNRGBA(rect image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(rect)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		var y0, u, y1, v byte
		if img.Format.Layout == LayoutYUYV {
			y0, u, y1, v = img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
		} else {
			u, y0, v, y1 = img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
		}
		p := i / 2 * 4
		r, g, b := color.YCbCrToRGB(y0, u, v)
		out.Pix[p], out.Pix[p+1], out.Pix[p+2], out.Pix[p+3] = r, g, b, 0xff
		r, g, b = color.YCbCrToRGB(y1, u, v)
		out.Pix[p+4], out.Pix[p+5], out.Pix[p+6], out.Pix[p+7] = r, g, b, 0xff
	}
	return out
}

// bayerPatterns は 2x2 ブロック内 (0,0) (1,0) (0,1) (1,1) の色
var bayerPatterns = map[PixelFormat][4]byte{
	BayerRG8: {'R', 'G', 'G', 'B'},
	BayerGR8: {'G', 'R', 'B', 'G'},
	BayerGB8: {'G', 'B', 'R', 'G'},
	BayerBG8: {'B', 'G', 'G', 'R'},
}

func (img *Image) demosaic(rect image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(rect)
	pattern := bayerPatterns[img.Format.PixelFormat]
	w, h := img.Width, img.Height

	at := func(x, y int) int {
		if x >= w {
			x = w - 1
		}
		if y >= h {
			y = h - 1
		}
		return int(img.Pix[y*w+x])
	}

	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			var r, g, b, gn int
			for k, c := range pattern {
				v := at(bx+k%2, by+k/2)
				switch c {
				case 'R':
					r = v
				case 'B':
					b = v
				default:
					g += v
					gn++
				}
			}
			if gn > 0 {
				g /= gn
			}
			for dy := 0; dy < 2 && by+dy < h; dy++ {
				for dx := 0; dx < 2 && bx+dx < w; dx++ {
					p := out.PixOffset(bx+dx, by+dy)
					out.Pix[p], out.Pix[p+1], out.Pix[p+2], out.Pix[p+3] = byte(r), byte(g), byte(b), 0xff
				}
			}
		}
	}
	return out
}
