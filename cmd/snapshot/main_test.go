package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mvcam/internal/camera"
	"mvcam/internal/config"
)

func TestRun_SavesPNG(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		driver:   config.DriverSimulated,
		feature:  filepath.Join(dir, "missing.ini"),
		out:      filepath.Join(dir, "out", "frame.png"),
		timeout:  time.Second,
		exposure: 5000,
	}
	var out bytes.Buffer

	if err := run(context.Background(), &out, opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "フィーチャーファイルを読み込めませんでした") {
		t.Errorf("Expected feature load warning, got %q", out.String())
	}

	f, err := os.Open(opts.out)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if format != "png" {
		t.Errorf("Expected png, got %s", format)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("Expected 64x48, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRun_InvalidIndex(t *testing.T) {
	opts := options{
		driver:  config.DriverSimulated,
		index:   5,
		out:     filepath.Join(t.TempDir(), "frame.png"),
		timeout: time.Second,
	}
	err := run(context.Background(), &bytes.Buffer{}, opts)
	if !errors.Is(err, camera.ErrDeviceIndex) {
		t.Errorf("Expected ErrDeviceIndex, got %v", err)
	}
	if _, err := os.Stat(opts.out); !os.IsNotExist(err) {
		t.Error("Expected no output file")
	}
}

func TestRun_InvalidExposure(t *testing.T) {
	opts := options{
		driver:   config.DriverSimulated,
		out:      filepath.Join(t.TempDir(), "frame.png"),
		timeout:  time.Second,
		exposure: 5,
	}
	err := run(context.Background(), &bytes.Buffer{}, opts)
	if !errors.Is(err, camera.ErrParameter) {
		t.Errorf("Expected ErrParameter, got %v", err)
	}
}
