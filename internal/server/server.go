package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mvcam/internal/camera"
	"mvcam/internal/config"
	"mvcam/internal/feature"
	"mvcam/internal/journal"
	"mvcam/internal/log"
	"mvcam/internal/recorder"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    *camera.Manager
	handler    *Handler
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// Options はサーバーの依存関係
type Options struct {
	Driver  string           // 表示用のドライバー名
	Manager *camera.Manager  // 必須
	Journal *journal.Journal // nil なら記録しない
	Logger  *slog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.L()
	}

	h := &Handler{
		config:    cfg,
		driver:    opts.Driver,
		manager:   opts.Manager,
		features:  feature.NewStore(logger),
		journal:   opts.Journal,
		logger:    logger,
		recorders: make(map[string]*recorder.Recorder),
		watchers:  make(map[string]context.CancelFunc),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), corsMiddleware())

	s := &Server{
		config:  cfg,
		manager: opts.Manager,
		handler: h,
		router:  router,
		logger:  logger,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ヘルスチェックエンドポイント
	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/devices", h.GetDevices)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.OpenSession)
			sessions.GET("", h.GetSessions)
			sessions.GET("/:id", h.GetSession)
			sessions.DELETE("/:id", h.CloseSession)

			sessions.POST("/:id/stream", h.StartStream)
			sessions.DELETE("/:id/stream", h.StopStream)
			sessions.GET("/:id/frame", h.GetFrame)

			sessions.GET("/:id/parameters/:name", h.GetParameter)
			sessions.PUT("/:id/parameters/:name", h.SetParameter)

			sessions.POST("/:id/features/save", h.SaveFeatures)
			sessions.POST("/:id/features/load", h.LoadFeatures)

			sessions.POST("/:id/recording", h.StartRecording)
			sessions.GET("/:id/recording", h.GetRecording)
			sessions.DELETE("/:id/recording", h.StopRecording)

			sessions.GET("/:id/captures", h.GetCaptures)
		}
	}
}

// requestLogger はリクエストを構造化ログに記録する
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("リクエスト",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start はデバイスを列挙してサーバーを起動する
// コンテキストのキャンセルかシグナルで停止し、すべてのセッションを閉じる
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("カメラマネージャーの起動に失敗: %w", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.closeSessions()
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの実行に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		s.closeSessions()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.closeSessionsContext(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

func (s *Server) closeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.closeSessionsContext(ctx); err != nil {
		s.logger.Warn("セッションのクローズに失敗しました", "error", err)
	}
}

// closeSessionsContext は定期取得を止めてからすべてのセッションを閉じる
func (s *Server) closeSessionsContext(ctx context.Context) error {
	s.handler.stopAllRecorders(ctx)
	s.handler.stopAllWatches()

	sessions := s.manager.Sessions()
	err := s.manager.Stop(ctx)
	for _, sess := range sessions {
		s.handler.recordClosed(ctx, sess.ID())
	}
	if err != nil {
		return fmt.Errorf("セッションのクローズに失敗: %w", err)
	}
	return nil
}
