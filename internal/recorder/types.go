package recorder

import (
	"fmt"
	"time"
)

// Config は定期取得の設定
type Config struct {
	Interval       time.Duration `yaml:"interval" json:"interval"`               // 取得間隔（デフォルト: 2秒）
	OutputDir      string        `yaml:"output_dir" json:"output_dir"`           // 画像の保存先
	Format         string        `yaml:"format" json:"format"`                   // "png" / "jpeg"
	CaptureTimeout time.Duration `yaml:"capture_timeout" json:"capture_timeout"` // 1フレームの待ち時間
	RetentionDays  int           `yaml:"retention_days" json:"retention_days"`   // 保持期間（日数、0 で無期限）
}

// DefaultConfig はデフォルトの定期取得設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:       2 * time.Second,
		OutputDir:      "frames",
		Format:         "png",
		CaptureTimeout: time.Second,
		RetentionDays:  30,
	}
}

// Validate は設定値の妥当性を検証する
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("取得間隔は正の値である必要があります: %v", c.Interval)
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("取得タイムアウトは正の値である必要があります: %v", c.CaptureTimeout)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("保存先が指定されていません")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("保持期間は0以上である必要があります: %d", c.RetentionDays)
	}
	return nil
}

// Status は定期取得の状態
type Status string

const (
	StatusIdle      Status = "idle"      // 停止中
	StatusRecording Status = "recording" // 取得中
	StatusError     Status = "error"     // セッションの問題で停止
)

// StatusInfo は定期取得の状態情報
type StatusInfo struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Frames    int       `json:"frames"`
	Failures  int       `json:"failures"`
	LastFrame time.Time `json:"last_frame"`
	LastPath  string    `json:"last_path,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
