package frame

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality はJPEG出力の既定品質
const DefaultJPEGQuality = 90

// Save は画像をファイルに保存する。形式は拡張子（.png / .jpg など）で決まる
func Save(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(DefaultJPEGQuality)); err != nil {
		return fmt.Errorf("画像の保存に失敗 %s: %w", path, err)
	}
	return nil
}

// Encode は画像を指定形式（png / jpeg など）で w に書き込む
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	f, err := ParseImageFormat(format)
	if err != nil {
		return err
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if err := imaging.Encode(w, img, f, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("画像のエンコードに失敗: %w", err)
	}
	return nil
}

// ParseImageFormat は出力形式名を imaging.Format に変換する。空文字は PNG
func ParseImageFormat(format string) (imaging.Format, error) {
	if format == "" {
		return imaging.PNG, nil
	}
	f, err := imaging.FormatFromExtension(strings.TrimPrefix(format, "."))
	if err != nil {
		return 0, fmt.Errorf("未対応の出力形式 %q: %w", format, err)
	}
	return f, nil
}

// ContentType は出力形式のMIMEタイプを返す
func ContentType(f imaging.Format) string {
	switch f {
	case imaging.JPEG:
		return "image/jpeg"
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	}
	return "application/octet-stream"
}

// Thumbnail は縦横比を保ったまま width x height に収まるよう縮小する
func Thumbnail(img image.Image, width, height int) *image.NRGBA {
	return imaging.Fit(img, width, height, imaging.Lanczos)
}
