package server

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/driver"
	"mvcam/internal/feature"
	"mvcam/internal/frame"
	"mvcam/internal/journal"
	"mvcam/internal/recorder"
)

// Handler はAPIエンドポイントの実装
type Handler struct {
	config   *config.Config
	driver   string
	manager  *camera.Manager
	features *feature.Store
	journal  *journal.Journal // nil なら記録しない
	logger   *slog.Logger

	recorders map[string]*recorder.Recorder
	watchers  map[string]context.CancelFunc // フィーチャーファイルの監視
	mu        sync.Mutex
}

// OpenSessionRequest はセッション作成のリクエスト
type OpenSessionRequest struct {
	Index  *int   `json:"index"`
	Access string `json:"access"`
}

// SetParameterRequest はパラメータ設定のリクエスト
type SetParameterRequest struct {
	Value *int64 `json:"value"`
}

// FeatureRequest はフィーチャーファイル操作のリクエスト
// Path はフィーチャーディレクトリからの相対パス
type FeatureRequest struct {
	Path string `json:"path"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	recording := 0
	h.mu.Lock()
	for _, r := range h.recorders {
		if r.Status().Status == recorder.StatusRecording {
			recording++
		}
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Driver:    h.driver,
		Devices:   len(h.manager.Devices()),
		Sessions:  len(h.manager.Sessions()),
		Recording: recording,
		Timestamp: time.Now(),
	})
}

// GetDevices はデバイス一覧取得エンドポイントの実装
// refresh=1 なら再列挙する
func (h *Handler) GetDevices(c *gin.Context) {
	devices := h.manager.Devices()
	if refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false")); refresh {
		var err error
		devices, err = h.manager.Refresh(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices})
}

// OpenSession はデバイスを開いてセッションを作成する
func (h *Handler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Index == nil {
		writeError(c, fmt.Errorf("%w: index が必要です", errBadRequest))
		return
	}

	mode := h.config.AccessMode()
	if req.Access != "" {
		m, err := driver.ParseAccessMode(req.Access)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		mode = m
	}

	ctx := c.Request.Context()
	s, err := h.manager.Open(ctx, *req.Index, mode)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.journal != nil {
		dev := s.Device()
		err := h.journal.RecordSessionOpened(ctx, journal.SessionRecord{
			ID:       s.ID(),
			Device:   dev.Key(),
			Model:    dev.Model,
			Serial:   dev.Serial,
			OpenedAt: s.OpenedAt(),
		})
		if err != nil {
			h.logger.Warn("セッションの記録に失敗しました", "session", s.ID(), "error", err)
		}
	}
	if h.config.Camera.WatchFeatures {
		h.watchFeatures(s)
	}

	c.JSON(http.StatusCreated, sessionInfo(s))
}

// GetSessions はセッション一覧取得エンドポイントの実装
func (h *Handler) GetSessions(c *gin.Context) {
	sessions := h.manager.Sessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo(s))
	}
	c.JSON(http.StatusOK, SessionsResponse{Sessions: infos})
}

// GetSession はセッション情報取得エンドポイントの実装
func (h *Handler) GetSession(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionInfo(s))
}

// CloseSession はセッションを閉じる
func (h *Handler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.manager.Session(id); err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	h.stopRecorder(ctx, id)
	h.stopWatch(id)
	err := h.manager.CloseSession(ctx, id)
	h.recordClosed(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StartStream はストリーミングを開始する
func (h *Handler) StartStream(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.StartStreaming(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionInfo(s))
}

// StopStream はストリーミングを停止する
func (h *Handler) StopStream(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.stopRecorder(c.Request.Context(), s.ID())
	if err := s.StopStreaming(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionInfo(s))
}

// GetFrame は1フレームを取得して画像として返す
//
// クエリ: format=png|jpeg、timeout=1s、quality=1..100、width/height（縮小）
func (h *Handler) GetFrame(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	format, err := frame.ParseImageFormat(c.DefaultQuery("format", "png"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	timeout := h.config.Camera.CaptureTimeout
	if v := c.Query("timeout"); v != "" {
		timeout, err = time.ParseDuration(v)
		if err != nil || timeout <= 0 {
			writeError(c, fmt.Errorf("%w: timeout %q", errBadRequest, v))
			return
		}
	}
	quality, _ := strconv.Atoi(c.DefaultQuery("quality", "0"))
	width, _ := strconv.Atoi(c.DefaultQuery("width", "0"))
	height, _ := strconv.Atoi(c.DefaultQuery("height", "0"))

	buf, err := s.NewFrameBuffer()
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	raw, err := s.CaptureFrame(ctx, buf, timeout)
	if err != nil {
		writeError(c, err)
		return
	}
	decoded, err := frame.Decode(raw)
	if err != nil {
		writeError(c, err)
		return
	}

	var img image.Image = decoded.ToImage()
	if width > 0 && height > 0 {
		img = frame.Thumbnail(img, width, height)
	}

	var out bytes.Buffer
	if err := frame.Encode(&out, img, c.DefaultQuery("format", "png"), quality); err != nil {
		writeError(c, err)
		return
	}

	if h.journal != nil {
		_, err := h.journal.RecordCapture(ctx, journal.Capture{
			SessionID:   s.ID(),
			FrameNumber: decoded.FrameNumber,
			Width:       decoded.Width,
			Height:      decoded.Height,
			PixelFormat: decoded.Format.Name,
			CapturedAt:  decoded.Timestamp,
		})
		if err != nil {
			h.logger.Warn("取得履歴の記録に失敗しました", "session", s.ID(), "error", err)
		}
	}

	c.Header("X-Frame-Number", strconv.FormatUint(uint64(decoded.FrameNumber), 10))
	c.Header("X-Pixel-Format", decoded.Format.Name)
	c.Data(http.StatusOK, frame.ContentType(format), out.Bytes())
}

// GetParameter は整数パラメータを取得する
func (h *Handler) GetParameter(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	name := c.Param("name")
	v, err := s.Parameter(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ParameterResponse{Name: name, Value: v})
}

// SetParameter は整数パラメータを設定する
func (h *Handler) SetParameter(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req SetParameterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		writeError(c, fmt.Errorf("%w: value が必要です", errBadRequest))
		return
	}

	name := c.Param("name")
	if err := s.SetParameter(name, *req.Value); err != nil {
		writeError(c, err)
		return
	}
	v, err := s.Parameter(name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ParameterResponse{Name: name, Value: v})
}

// SaveFeatures はデバイス設定をフィーチャーファイルに保存する
func (h *Handler) SaveFeatures(c *gin.Context) {
	h.featureOp(c, true, h.features.Save)
}

// LoadFeatures はフィーチャーファイルの設定をデバイスに適用する
func (h *Handler) LoadFeatures(c *gin.Context) {
	h.featureOp(c, false, h.features.Load)
}

// featureOp はフィーチャーディレクトリ内に解決したパスで op を実行する
func (h *Handler) featureOp(c *gin.Context, save bool, op func(context.Context, feature.Session, string) error) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var req FeatureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if req.Path == "" {
		req.Path = h.config.Camera.FeatureFile
	}
	path, err := h.config.FeaturePath(req.Path)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if save {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(c, &feature.PersistenceError{Op: "save", Path: path, Kind: feature.KindIO, Err: err})
			return
		}
	}

	if err := op(c.Request.Context(), s, path); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FeatureRequest{Path: filepath.Clean(req.Path)})
}

// watchFeatures は既定のフィーチャーファイルが更新されるたびにセッションへ読み込み直す
func (h *Handler) watchFeatures(s *camera.Session) {
	path, err := h.config.FeaturePath("")
	if err == nil {
		err = os.MkdirAll(filepath.Dir(path), 0o755)
	}
	if err != nil {
		h.logger.Warn("フィーチャーファイルを監視できません", "session", s.ID(), "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	// 読み込みの失敗は Store がログに出す
	if _, err := h.features.Watch(ctx, s, path); err != nil {
		cancel()
		h.logger.Warn("フィーチャーファイルを監視できません", "session", s.ID(), "error", err)
		return
	}

	h.mu.Lock()
	h.watchers[s.ID()] = cancel
	h.mu.Unlock()
	h.logger.Info("フィーチャーファイルの監視を開始しました", "session", s.ID(), "path", path)
}

func (h *Handler) stopWatch(id string) {
	h.mu.Lock()
	cancel, ok := h.watchers[id]
	delete(h.watchers, id)
	h.mu.Unlock()

	if ok {
		cancel()
	}
}

func (h *Handler) stopAllWatches() {
	h.mu.Lock()
	watchers := h.watchers
	h.watchers = make(map[string]context.CancelFunc)
	h.mu.Unlock()

	for _, cancel := range watchers {
		cancel()
	}
}

// StartRecording は定期取得を開始する
func (h *Handler) StartRecording(c *gin.Context) {
	s, err := h.manager.Session(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, exists := h.recorders[s.ID()]
	if !exists {
		var sink recorder.Sink
		if h.journal != nil {
			sink = h.journal
		}
		r = recorder.New(s, sink, h.config.Recorder, h.logger)
	}
	// 定期取得はリクエストより長く続く
	if err := r.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		writeError(c, err)
		return
	}
	h.recorders[s.ID()] = r
	c.JSON(http.StatusOK, r.Status())
}

// GetRecording は定期取得の状態を返す
func (h *Handler) GetRecording(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	r, exists := h.recorders[id]
	h.mu.Unlock()

	if !exists {
		if _, err := h.manager.Session(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, recorder.StatusInfo{SessionID: id, Status: recorder.StatusIdle})
		return
	}
	c.JSON(http.StatusOK, r.Status())
}

// StopRecording は定期取得を停止する
func (h *Handler) StopRecording(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.manager.Session(id); err != nil {
		writeError(c, err)
		return
	}
	h.stopRecorder(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

// GetCaptures は取得履歴を返す
func (h *Handler) GetCaptures(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "journal_disabled", Message: "取得履歴は無効です", Timestamp: time.Now()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	captures, err := h.journal.Captures(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captures": captures})
}

// stopRecorder はセッションの定期取得を止めて破棄する
func (h *Handler) stopRecorder(ctx context.Context, id string) {
	h.mu.Lock()
	r, exists := h.recorders[id]
	delete(h.recorders, id)
	h.mu.Unlock()

	if exists {
		if err := r.Stop(ctx); err != nil {
			h.logger.Warn("定期取得の停止に失敗しました", "session", id, "error", err)
		}
	}
}

// stopAllRecorders はすべての定期取得を止める
func (h *Handler) stopAllRecorders(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.recorders))
	for id := range h.recorders {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.stopRecorder(ctx, id)
	}
}

// recordClosed はセッションの終了を記録する
func (h *Handler) recordClosed(ctx context.Context, id string) {
	if h.journal == nil {
		return
	}
	if err := h.journal.RecordSessionClosed(ctx, id, time.Now()); err != nil {
		h.logger.Warn("セッション終了の記録に失敗しました", "session", id, "error", err)
	}
}
