// snapshot はカメラから1フレームを取得して画像ファイルに保存するコマンド
//
// 使用方法:
//
//	snapshot -index 0 -feature FeatureFile.ini -out frame.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/driver"
	"mvcam/internal/feature"
	"mvcam/internal/frame"
	"mvcam/internal/log"
	"mvcam/internal/sdk"
)

type options struct {
	driver   string
	index    int
	feature  string
	out      string
	timeout  time.Duration
	exposure int64
}

func main() {
	var opts options
	flag.StringVar(&opts.driver, "driver", config.DriverSimulated, "カメラドライバー: simulated / mvs")
	flag.IntVar(&opts.index, "index", 0, "開くデバイスの番号")
	flag.StringVar(&opts.feature, "feature", feature.DefaultFile, "取得前に読み込むフィーチャーファイル（空なら読み込まない）")
	flag.StringVar(&opts.out, "out", "frame.png", "保存先（拡張子で形式を決める）")
	flag.DurationVar(&opts.timeout, "timeout", time.Second, "フレームの待ち時間")
	flag.Int64Var(&opts.exposure, "exposure", 0, "露光時間（0 ならデバイスの設定のまま）")
	level := flag.String("log-level", "warn", "ログレベル")
	flag.Parse()

	log.Init(*level)

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	rt, err := sdk.Open(opts.driver, log.L())
	if err != nil {
		return err
	}
	defer rt.Close()

	registry := camera.NewRegistry(rt.Driver())
	if _, err := registry.Enumerate(ctx, driver.TransportAll); err != nil {
		return err
	}
	info, err := registry.Device(opts.index)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "デバイスを開きます: %s\n", info)

	s, err := camera.Open(ctx, rt.Driver(), info, driver.AccessExclusive)
	if err != nil {
		return err
	}
	defer s.Close()

	// フィーチャーファイルの読み込み失敗は警告のみ
	if opts.feature != "" {
		if err := feature.NewStore(log.L()).Load(ctx, s, opts.feature); err != nil {
			fmt.Fprintf(out, "フィーチャーファイルを読み込めませんでした: %v\n", err)
		}
	}
	if opts.exposure > 0 {
		if err := s.SetParameter("ExposureTime", opts.exposure); err != nil {
			return err
		}
	}

	if err := s.StartStreaming(ctx); err != nil {
		return err
	}

	buf, err := s.NewFrameBuffer()
	if err != nil {
		return err
	}
	raw, err := s.CaptureFrame(ctx, buf, opts.timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "フレームを取得しました: %dx%d %s\n", raw.Width, raw.Height, frame.PixelFormat(raw.PixelType))

	img, err := frame.Decode(raw)
	if err != nil {
		return err
	}
	if err := frame.Save(img.ToImage(), opts.out); err != nil {
		return err
	}
	fmt.Fprintf(out, "保存しました: %s\n", opts.out)

	return errors.Join(s.StopStreaming(), s.Close())
}
