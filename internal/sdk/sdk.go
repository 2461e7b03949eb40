// Package sdk はカメラSDK全体の初期化と終了処理を管理する
//
// ドライバーの選択（模擬カメラ / MVS SDK）と Initialize / Finalize の対応付けを行う。
// Finalize はすべてのセッションを閉じた後に一度だけ呼ばれる。
package sdk

import (
	"fmt"
	"log/slog"
	"sync"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/driver"
	"mvcam/internal/driver/mvs"
	"mvcam/internal/log"
)

// Runtime は初期化済みのドライバー
type Runtime struct {
	drv    driver.Driver
	name   string
	logger *slog.Logger

	once sync.Once
	err  error
}

// Open は名前で指定されたドライバーを作成して初期化する
func Open(name string, logger *slog.Logger) (*Runtime, error) {
	var drv driver.Driver
	switch name {
	case config.DriverSimulated:
		drv = driver.NewMock(driver.SimulatedDevices()...)
	case config.DriverMVS:
		d, err := mvs.New()
		if err != nil {
			return nil, fmt.Errorf("MVS ドライバーを作成できません: %w", err)
		}
		drv = d
	default:
		return nil, fmt.Errorf("未対応のドライバー: %q", name)
	}
	return New(drv, name, logger)
}

// New は与えられたドライバーを初期化する
func New(drv driver.Driver, name string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.L()
	}
	logger = logger.With("driver", name)

	if st := drv.Initialize(); !st.OK() {
		err := &camera.DriverError{Op: string(driver.OpInitialize), Code: st}
		logger.Error("SDK の初期化に失敗しました", "error", err)
		return nil, err
	}
	logger.Info("SDK を初期化しました")

	return &Runtime{drv: drv, name: name, logger: logger}, nil
}

// Driver は初期化済みのドライバーを返す
func (r *Runtime) Driver() driver.Driver {
	return r.drv
}

// Name はドライバー名を返す
func (r *Runtime) Name() string {
	return r.name
}

// Close は SDK を終了する。何度呼んでもよい
func (r *Runtime) Close() error {
	r.once.Do(func() {
		if st := r.drv.Finalize(); !st.OK() {
			r.err = &camera.DriverError{Op: string(driver.OpFinalize), Code: st}
			r.logger.Warn("SDK の終了に失敗しました", "error", r.err)
			return
		}
		r.logger.Info("SDK を終了しました")
	})
	return r.err
}
