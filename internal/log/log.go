// Package log はアプリケーション全体で使う構造化ロガーを提供する
//
// log/slog をラップし、GO_ENV=production ではJSON、それ以外ではテキストで出力する。
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init は指定したレベルでグローバルロガーを初期化する
// 有効なレベル: "debug", "info", "warn", "error"
func Init(level string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}

		if os.Getenv("GO_ENV") == "production" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

// ParseLevel はレベル名を slog.Level に変換する。不明な値は Info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L はグローバルロガーを返す。未初期化なら info レベルで初期化する
func L() *slog.Logger {
	Init("info")
	return logger
}

// Discard は出力を捨てるロガーを返す（テスト用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With は属性を付与したロガーを返す
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
