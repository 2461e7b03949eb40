// Package feature はカメラのフィーチャーファイル（デバイス設定）の保存と読み込みを担う
//
// ファイルの内容はドライバーが解釈し、このパッケージは中身を読まない。
// 保存先・読み込み元の I/O 問題はドライバーを呼ぶ前に検出して報告する。
package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mvcam/internal/camera"
	"mvcam/internal/log"
)

// DefaultFile はフィーチャーファイルの既定名
const DefaultFile = "FeatureFile.ini"

// ErrPersistence はフィーチャーファイルの保存・読み込みの失敗
var ErrPersistence = errors.New("フィーチャーファイルの処理に失敗")

// Kind は失敗の原因の種類
type Kind int

const (
	KindIO     Kind = iota // ファイルシステムの問題
	KindDriver             // ドライバーによる拒否
)

func (k Kind) String() string {
	if k == KindDriver {
		return "driver"
	}
	return "io"
}

// PersistenceError はフィーチャーファイルの保存・読み込みの失敗を表す
type PersistenceError struct {
	Op   string // "save" または "load"
	Path string
	Kind Kind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("フィーチャーファイルの%s に失敗 (%s, %s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
func (e *PersistenceError) Unwrap() error        { return e.Err }

// Session は Store が必要とするセッションの操作
type Session interface {
	State() camera.State
	SaveFeatures(path string) error
	LoadFeatures(path string) error
}

// Store はフィーチャーファイルの保存と読み込みを行う
type Store struct {
	logger *slog.Logger
}

// NewStore は新しいStoreを作成する。logger が nil ならグローバルロガーを使う
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = log.L()
	}
	return &Store{logger: logger}
}

// Save はセッションのデバイス設定を dest に保存する
func (st *Store) Save(ctx context.Context, s Session, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state := s.State(); state == camera.StateClosed {
		return &camera.InvalidStateError{Attempted: "SaveFeatures", Current: state}
	}
	if err := checkWritable(dest); err != nil {
		return &PersistenceError{Op: "save", Path: dest, Kind: KindIO, Err: err}
	}

	if err := s.SaveFeatures(dest); err != nil {
		return wrapDriver("save", dest, err)
	}
	st.logger.Info("フィーチャーファイルを保存しました", "path", dest)
	return nil
}

// Load は src のデバイス設定をセッションに適用する
// 失敗した場合、設定は変更されない
func (st *Store) Load(ctx context.Context, s Session, src string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state := s.State(); state == camera.StateClosed {
		return &camera.InvalidStateError{Attempted: "LoadFeatures", Current: state}
	}
	if err := checkReadable(src); err != nil {
		return &PersistenceError{Op: "load", Path: src, Kind: KindIO, Err: err}
	}

	if err := s.LoadFeatures(src); err != nil {
		return wrapDriver("load", src, err)
	}
	st.logger.Info("フィーチャーファイルを読み込みました", "path", src)
	return nil
}

// wrapDriver はドライバーの失敗を PersistenceError にする。状態違反はそのまま返す
func wrapDriver(op, path string, err error) error {
	if errors.Is(err, camera.ErrInvalidState) {
		return err
	}
	return &PersistenceError{Op: op, Path: path, Kind: KindDriver, Err: err}
}

// checkWritable は dest のディレクトリにファイルを作成できるか確認する
func checkWritable(dest string) error {
	if dest == "" {
		return errors.New("保存先が指定されていません")
	}
	dir := filepath.Dir(dest)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s はディレクトリではありません", dir)
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return fmt.Errorf("%s はディレクトリです", dest)
	}

	probe, err := os.CreateTemp(dir, ".mvcam-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// checkReadable は src が読み込み可能な通常ファイルか確認する
func checkReadable(src string) error {
	if src == "" {
		return errors.New("読み込み元が指定されていません")
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s は通常のファイルではありません", src)
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	return f.Close()
}
