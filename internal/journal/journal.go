// Package journal はセッションとフレーム取得の履歴を SQLite に記録する
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// SessionRecord は記録されたセッション
type SessionRecord struct {
	ID       string     `json:"id"`
	Device   string     `json:"device"`
	Model    string     `json:"model"`
	Serial   string     `json:"serial"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

// Capture は記録された1フレーム分の取得
type Capture struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	FrameNumber uint32    `json:"frame_number"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	PixelFormat string    `json:"pixel_format"`
	Path        string    `json:"path,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Journal は SQLite に履歴を記録する
type Journal struct {
	db *sql.DB
}

// Open はデータベースを開き、スキーマを適用する
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベースを開けません: %w", err)
	}
	// SQLite への書き込みは1接続に直列化する
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースに接続できません: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの適用に失敗: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close はデータベースを閉じる
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSessionOpened はセッションの開始を記録する
func (j *Journal) RecordSessionOpened(ctx context.Context, rec SessionRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, device, model, serial, opened_at, closed_at) VALUES (?, ?, ?, ?, ?, NULL)`,
		rec.ID, rec.Device, rec.Model, rec.Serial, rec.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("セッションの記録に失敗: %w", err)
	}
	return nil
}

// RecordSessionClosed はセッションの終了を記録する
func (j *Journal) RecordSessionClosed(ctx context.Context, id string, closedAt time.Time) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		closedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("セッション終了の記録に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("記録中のセッションがありません: %s", id)
	}
	return nil
}

// RecordCapture はフレーム取得を記録し、採番されたIDを返す
func (j *Journal) RecordCapture(ctx context.Context, c Capture) (int64, error) {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO captures (session_id, frame_number, width, height, pixel_format, path, captured_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.FrameNumber, c.Width, c.Height, c.PixelFormat, c.Path, c.CapturedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("取得履歴の記録に失敗: %w", err)
	}
	return res.LastInsertId()
}

// Captures はセッションの取得履歴を新しい順に最大 limit 件返す
func (j *Journal) Captures(ctx context.Context, sessionID string, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, frame_number, width, height, pixel_format, path, captured_at
		   FROM captures WHERE session_id = ? ORDER BY captured_at DESC, id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("取得履歴の検索に失敗: %w", err)
	}
	defer rows.Close()

	captures := []Capture{}
	for rows.Next() {
		var c Capture
		var at int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FrameNumber, &c.Width, &c.Height, &c.PixelFormat, &c.Path, &at); err != nil {
			return nil, err
		}
		c.CapturedAt = time.UnixMilli(at)
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// Session は記録されたセッションを返す
func (j *Journal) Session(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	var opened int64
	var closed sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT id, device, model, serial, opened_at, closed_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Device, &rec.Model, &rec.Serial, &opened, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("セッションの記録がありません: %s", id)
	}
	if err != nil {
		return nil, err
	}
	rec.OpenedAt = time.UnixMilli(opened)
	if closed.Valid {
		t := time.UnixMilli(closed.Int64)
		rec.ClosedAt = &t
	}
	return &rec, nil
}
