package frame

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		tag  uint32
		bpp  int
		name string
	}{
		{0x01080001, 1, "Mono8"},
		{0x01100007, 2, "Mono16"},
		{0x02180014, 3, "RGB8Packed"},
		{0x02180015, 3, "BGR8Packed"},
		{0x02100032, 2, "YUV422_8"},
		{0x01080009, 1, "BayerRG8"},
	}
	for _, tt := range tests {
		f, ok := Lookup(tt.tag)
		if !ok {
			t.Errorf("Lookup(0x%08X) not found", tt.tag)
			continue
		}
		if f.BytesPerPixel != tt.bpp || f.Name != tt.name {
			t.Errorf("Lookup(0x%08X) = %+v, want bpp=%d name=%s", tt.tag, f, tt.bpp, tt.name)
		}
	}

	if _, ok := Lookup(0xDEADBEEF); ok {
		t.Error("Expected unknown tag to be absent")
	}
	if PixelFormat(0xDEADBEEF).Known() {
		t.Error("Expected unknown tag to report Known() == false")
	}
}

func TestParsePixelFormat(t *testing.T) {
	if p, ok := ParsePixelFormat("rgb8packed"); !ok || p != RGB8 {
		t.Errorf("ParsePixelFormat(rgb8packed) = %s, %v", p, ok)
	}
	if p, ok := ParsePixelFormat("yuyv"); !ok || p != YUV422YUYV {
		t.Errorf("ParsePixelFormat(yuyv) = %s, %v", p, ok)
	}
	if _, ok := ParsePixelFormat("Mono14p"); ok {
		t.Error("Expected unknown format name to fail")
	}
}

func TestDecode_RGB8(t *testing.T) {
	data := make([]byte, 4*3*3)
	for i := range data {
		data[i] = byte(i)
	}
	raw := &RawFrame{Data: data, Width: 4, Height: 3, PixelType: uint32(RGB8), FrameNumber: 7}

	img, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(img.Pix) != 4*3*3 {
		t.Errorf("Expected %d bytes, got %d", 4*3*3, len(img.Pix))
	}
	if img.Channels != 3 || img.FrameNumber != 7 {
		t.Errorf("Unexpected image metadata: channels=%d frame=%d", img.Channels, img.FrameNumber)
	}

	// 取得バッファの再利用で画像が壊れないこと
	data[0] = 0xff
	if img.Pix[0] != 0 {
		t.Error("Expected decoded pixels to be copied from the frame buffer")
	}
}

func TestDecode_Mono8(t *testing.T) {
	raw := &RawFrame{Data: make([]byte, 16), Width: 4, Height: 4, PixelType: uint32(Mono8)}
	img, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(img.Pix) != 16 || img.Channels != 1 {
		t.Errorf("Unexpected image: len=%d channels=%d", len(img.Pix), img.Channels)
	}
}

func TestDecode_SizeMismatch(t *testing.T) {
	raw := &RawFrame{Data: make([]byte, 100), Width: 640, Height: 480, PixelType: uint32(RGB8)}

	_, err := Decode(raw)
	var malformed *MalformedFrameError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedFrameError, got %v", err)
	}
	if malformed.Expected != 640*480*3 || malformed.Actual != 100 {
		t.Errorf("Unexpected sizes: expected=%d actual=%d", malformed.Expected, malformed.Actual)
	}
	if !errors.Is(err, ErrMalformedFrame) {
		t.Error("Expected errors.Is(err, ErrMalformedFrame)")
	}
}

func TestDecode_UnknownFormat(t *testing.T) {
	raw := &RawFrame{Data: nil, Width: 640, Height: 480, PixelType: 0xDEADBEEF}

	_, err := Decode(raw)
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Expected UnsupportedFormatError, got %v", err)
	}
	if unsupported.Tag != 0xDEADBEEF {
		t.Errorf("Expected tag 0xDEADBEEF, got 0x%08X", unsupported.Tag)
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Error("Expected errors.Is(err, ErrUnsupportedFormat)")
	}
}

func TestDecode_InvalidDimensions(t *testing.T) {
	tests := []struct {
		name string
		raw  *RawFrame
	}{
		{"nil", nil},
		{"zero width", &RawFrame{Width: 0, Height: 4, PixelType: uint32(Mono8)}},
		{"negative height", &RawFrame{Width: 4, Height: -1, PixelType: uint32(Mono8)}},
		{"odd yuv width", &RawFrame{Data: make([]byte, 3*2*2), Width: 3, Height: 2, PixelType: uint32(YUV422YUYV)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	if n, ok := FrameSize(640, 480, 3); !ok || n != 921600 {
		t.Errorf("FrameSize(640, 480, 3) = %d, %v", n, ok)
	}
	if _, ok := FrameSize(1<<20, 1<<20, 4); ok {
		t.Error("Expected overflow to be rejected")
	}
}

func TestToImage(t *testing.T) {
	t.Run("BGR8 swaps channels", func(t *testing.T) {
		img, err := Decode(&RawFrame{Data: []byte{1, 2, 3}, Width: 1, Height: 1, PixelType: uint32(BGR8)})
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		out, ok := img.ToImage().(*image.NRGBA)
		if !ok {
			t.Fatalf("Expected *image.NRGBA")
		}
		if got := out.Pix[:4]; !bytes.Equal(got, []byte{3, 2, 1, 0xff}) {
			t.Errorf("Expected [3 2 1 255], got %v", got)
		}
	})

	t.Run("Mono8 is gray", func(t *testing.T) {
		img, _ := Decode(&RawFrame{Data: []byte{10, 20, 30, 40}, Width: 2, Height: 2, PixelType: uint32(Mono8)})
		out, ok := img.ToImage().(*image.Gray)
		if !ok {
			t.Fatalf("Expected *image.Gray")
		}
		if out.GrayAt(1, 1).Y != 40 {
			t.Errorf("Expected 40 at (1,1), got %d", out.GrayAt(1, 1).Y)
		}
	})

	t.Run("Mono12 scales to 16 bit", func(t *testing.T) {
		img, _ := Decode(&RawFrame{Data: []byte{0xff, 0x0f}, Width: 1, Height: 1, PixelType: uint32(Mono12)})
		out, ok := img.ToImage().(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16")
		}
		if got := out.Gray16At(0, 0).Y; got != 0xfff0 {
			t.Errorf("Expected 0xfff0, got 0x%04x", got)
		}
	})

	t.Run("YUYV gray", func(t *testing.T) {
		img, _ := Decode(&RawFrame{Data: []byte{128, 128, 128, 128}, Width: 2, Height: 1, PixelType: uint32(YUV422YUYV)})
		out := img.ToImage().(*image.NRGBA)
		c := out.NRGBAAt(1, 0)
		if c.R != c.G || c.G != c.B || c.A != 0xff {
			t.Errorf("Expected neutral gray, got %+v", c)
		}
	})

	t.Run("BayerRG8 block", func(t *testing.T) {
		img, _ := Decode(&RawFrame{Data: []byte{200, 100, 100, 50}, Width: 2, Height: 2, PixelType: uint32(BayerRG8)})
		out := img.ToImage().(*image.NRGBA)
		c := out.NRGBAAt(0, 1)
		if c.R != 200 || c.G != 100 || c.B != 50 {
			t.Errorf("Expected (200,100,50), got %+v", c)
		}
	})
}

func TestSaveAndEncode(t *testing.T) {
	img, _ := Decode(&RawFrame{Data: make([]byte, 8*6*3), Width: 8, Height: 6, PixelType: uint32(RGB8)})
	path := filepath.Join(t.TempDir(), "out", "frame.png")

	if err := Save(img.ToImage(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open saved file: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Saved file is not a PNG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("Expected 8x6, got %dx%d", b.Dx(), b.Dy())
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img.ToImage(), "jpeg", 0); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xff, 0xd8}) {
		t.Error("Expected JPEG SOI marker")
	}

	if err := Encode(&buf, img.ToImage(), "webp", 0); err == nil {
		t.Error("Expected error for unsupported output format")
	}
}

func TestThumbnail(t *testing.T) {
	img, _ := Decode(&RawFrame{Data: make([]byte, 64*48), Width: 64, Height: 48, PixelType: uint32(Mono8)})
	thumb := Thumbnail(img.ToImage(), 16, 16)
	if b := thumb.Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Errorf("Expected 16x12 thumbnail, got %dx%d", b.Dx(), b.Dy())
	}
}
