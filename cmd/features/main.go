// features はデバイス設定をフィーチャーファイルに保存し、読み戻すコマンド
//
// 使用方法:
//
//	features -index 0 -file FeatureFile.ini
//	features -list
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/driver"
	"mvcam/internal/feature"
	"mvcam/internal/log"
	"mvcam/internal/sdk"
)

type options struct {
	driver    string
	transport string
	access    string
	index     int
	file      string
	list      bool
	save      bool
	load      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.driver, "driver", config.DriverSimulated, "カメラドライバー: simulated / mvs")
	flag.StringVar(&opts.transport, "transport", "all", "列挙するトランスポート: gige / usb / all")
	flag.StringVar(&opts.access, "access", "exclusive", "アクセスモード: exclusive / control / monitor")
	flag.IntVar(&opts.index, "index", 0, "開くデバイスの番号")
	flag.StringVar(&opts.file, "file", feature.DefaultFile, "フィーチャーファイル")
	flag.BoolVar(&opts.list, "list", false, "デバイス一覧を表示して終了")
	flag.BoolVar(&opts.save, "save", true, "デバイス設定をファイルに保存する")
	flag.BoolVar(&opts.load, "load", true, "ファイルの設定をデバイスに適用する")
	level := flag.String("log-level", "warn", "ログレベル")
	flag.Parse()

	log.Init(*level)

	if err := run(context.Background(), os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	mask, err := driver.ParseTransport(opts.transport)
	if err != nil {
		return err
	}
	mode, err := driver.ParseAccessMode(opts.access)
	if err != nil {
		return err
	}

	rt, err := sdk.Open(opts.driver, log.L())
	if err != nil {
		return err
	}
	defer rt.Close()

	registry := camera.NewRegistry(rt.Driver())
	devices, err := registry.Enumerate(ctx, mask)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "デバイスが見つかりません")
		return nil
	}

	fmt.Fprintf(out, "%d 台のデバイスが見つかりました:\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(out, "  %s\n", d)
	}
	if opts.list {
		return nil
	}

	info, err := registry.Device(opts.index)
	if err != nil {
		return err
	}

	s, err := camera.Open(ctx, rt.Driver(), info, mode)
	if err != nil {
		return err
	}
	defer s.Close()

	store := feature.NewStore(log.L())
	if opts.save {
		if err := store.Save(ctx, s, opts.file); err != nil {
			return err
		}
		fmt.Fprintf(out, "デバイス設定を保存しました: %s\n", opts.file)
	}
	if opts.load {
		if err := store.Load(ctx, s, opts.file); err != nil {
			return err
		}
		fmt.Fprintf(out, "デバイス設定を読み込みました: %s\n", opts.file)
	}

	return s.Close()
}
