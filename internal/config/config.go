package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mvcam/internal/driver"
	"mvcam/internal/recorder"
)

// ConfigEnv は設定ファイルのパスを指定する環境変数
const ConfigEnv = "MVCAM_CONFIG"

// ドライバー名
const (
	DriverSimulated = "simulated" // driver.Mock による模擬カメラ
	DriverMVS       = "mvs"       // MVS SDK（mvs ビルドタグが必要）
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Camera   CameraConfig    `yaml:"camera"`
	Recorder recorder.Config `yaml:"recorder"`
	Journal  JournalConfig   `yaml:"journal"`
	Log      LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver     string `yaml:"driver"`      // "simulated" / "mvs"
	Transport  string `yaml:"transport"`   // "gige" / "usb" / "all"
	AccessMode string `yaml:"access_mode"` // "exclusive" / "control" / "monitor"

	CaptureTimeout time.Duration `yaml:"capture_timeout"` // 1フレームの待ち時間
	PollInterval   time.Duration `yaml:"poll_interval"`   // 取得待ちの分割間隔
	ScanInterval   time.Duration `yaml:"scan_interval"`   // 自動検出の間隔（0 で無効）
	FeatureDir     string        `yaml:"feature_dir"`     // フィーチャーファイルを置くディレクトリ
	FeatureFile    string        `yaml:"feature_file"`    // FeatureDir 内の既定のファイル名
	WatchFeatures  bool          `yaml:"watch_features"`  // セッションを開いたら既定ファイルの変更を監視する
}

// JournalConfig は取得履歴の設定
type JournalConfig struct {
	Path string `yaml:"path"` // SQLite ファイル（空なら記録しない）
}

// LogConfig はログの設定
type LogConfig struct {
	Level string `yaml:"level"` // debug / info / warn / error
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Camera: CameraConfig{
			Driver:         DriverSimulated,
			Transport:      "all",
			AccessMode:     "exclusive",
			CaptureTimeout: time.Second,
			PollInterval:   100 * time.Millisecond,
			ScanInterval:   30 * time.Second,
			FeatureDir:     "features",
			FeatureFile:    "FeatureFile.ini",
		},
		Recorder: recorder.DefaultConfig(),
		Journal: JournalConfig{
			Path: "data/journal.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値に MVCAM_CONFIG の YAML ファイルを重ね、環境変数で上書きしてから検証する。
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Camera.Driver = getEnvOrDefault("MVCAM_DRIVER", cfg.Camera.Driver)
	cfg.Log.Level = getEnvOrDefault("MVCAM_LOG_LEVEL", cfg.Log.Level)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// loadFile は YAML ファイルの値を設定に重ねる
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルを読み込めません %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 %s: %w", path, err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// カメラ設定の検証
	switch c.Camera.Driver {
	case DriverSimulated, DriverMVS:
	default:
		errs = append(errs, fmt.Errorf("未対応のドライバー: %q", c.Camera.Driver))
	}
	if _, err := driver.ParseTransport(c.Camera.Transport); err != nil {
		errs = append(errs, err)
	}
	if _, err := driver.ParseAccessMode(c.Camera.AccessMode); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.CaptureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("取得タイムアウトは正の値である必要があります: %v", c.Camera.CaptureTimeout))
	}
	if c.Camera.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ポーリング間隔は正の値である必要があります: %v", c.Camera.PollInterval))
	}
	if c.Camera.ScanInterval < 0 {
		errs = append(errs, fmt.Errorf("自動検出の間隔は0以上である必要があります: %v", c.Camera.ScanInterval))
	}
	if c.Camera.FeatureDir == "" {
		errs = append(errs, errors.New("フィーチャーファイルのディレクトリが指定されていません"))
	}
	if !filepath.IsLocal(c.Camera.FeatureFile) {
		errs = append(errs, fmt.Errorf("フィーチャーファイルはディレクトリ内の相対パスである必要があります: %q", c.Camera.FeatureFile))
	}

	if err := c.Recorder.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("不明なログレベル: %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// FeaturePath はフィーチャーファイル名を FeatureDir 内のパスに解決する
// 空なら既定のファイル名を使う。絶対パスやディレクトリ外を指す名前は拒否する
func (c *Config) FeaturePath(name string) (string, error) {
	if name == "" {
		name = c.Camera.FeatureFile
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("フィーチャーファイルは %s 内の相対パスで指定してください: %q", c.Camera.FeatureDir, name)
	}
	return filepath.Join(c.Camera.FeatureDir, name), nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TransportMask は設定された転送方式のマスクを返す
func (c *Config) TransportMask() driver.TransportMask {
	mask, err := driver.ParseTransport(c.Camera.Transport)
	if err != nil {
		return driver.TransportAll
	}
	return mask
}

// AccessMode は設定されたアクセスモードを返す
func (c *Config) AccessMode() driver.AccessMode {
	mode, err := driver.ParseAccessMode(c.Camera.AccessMode)
	if err != nil {
		return driver.AccessExclusive
	}
	return mode
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
