// mvcam はマシンビジョンカメラのセッションをHTTPで操作するサーバー
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/journal"
	"mvcam/internal/log"
	"mvcam/internal/sdk"
	"mvcam/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", "", "設定ファイル (YAML、MVCAM_CONFIG より優先)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		drv        = flag.String("driver", "", "カメラドライバー: simulated / mvs")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("mvcam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  mvcam [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *configPath != "" {
		os.Setenv(config.ConfigEnv, *configPath)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *drv != "" {
		cfg.Camera.Driver = *drv
	}

	log.Init(cfg.Log.Level)

	if err := run(cfg); err != nil {
		log.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	rt, err := sdk.Open(cfg.Camera.Driver, log.L())
	if err != nil {
		return err
	}
	// SDK の終了はすべてのセッションを閉じた後
	defer rt.Close()

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
	}

	manager := camera.NewManager(rt.Driver(), cfg.TransportMask(), camera.WithPollInterval(cfg.Camera.PollInterval))
	manager.SetLogger(log.L())
	manager.SetScanInterval(cfg.Camera.ScanInterval)

	srv := server.New(cfg, server.Options{
		Driver:  rt.Name(),
		Manager: manager,
		Journal: j,
		Logger:  log.L(),
	})

	log.Info("mvcam サーバーを起動します", "addr", cfg.ServerAddress(), "driver", rt.Name())
	return srv.Start(context.Background())
}
