package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mvcam/internal/driver"
	"mvcam/internal/log"
)

// Manager は列挙済みデバイスと開いているセッションを管理する
type Manager struct {
	drv      driver.Driver
	registry *Registry
	mask     driver.TransportMask
	logger   *slog.Logger

	// Open するセッションに渡すオプション
	sessionOpts []Option

	sessions map[string]*Session
	mu       sync.RWMutex

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	// 自動検出設定（0 なら無効）
	scanInterval time.Duration
}

// NewManager は新しいManagerを作成する
func NewManager(drv driver.Driver, mask driver.TransportMask, opts ...Option) *Manager {
	return &Manager{
		drv:          drv,
		registry:     NewRegistry(drv),
		mask:         mask,
		logger:       log.L(),
		sessionOpts:  opts,
		sessions:     make(map[string]*Session),
		stopCh:       make(chan struct{}),
		scanInterval: 30 * time.Second,
	}
}

// SetLogger はマネージャーのロガーを設定する
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetScanInterval は自動検出の間隔を設定する。0 以下で無効
func (m *Manager) SetScanInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanInterval = interval
}

// Start は初期スキャンを行い、必要ならバックグラウンドスキャンを開始する
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	devices, err := m.registry.Enumerate(ctx, m.mask)
	if err != nil {
		return fmt.Errorf("初期スキャンに失敗: %w", err)
	}
	m.logger.Info("デバイスを検出しました", "count", len(devices))

	if m.scanInterval > 0 {
		m.wg.Add(1)
		go m.backgroundScan(ctx, m.scanInterval, m.stopCh, m.logger)
	}
	m.started = true

	return nil
}

// Stop はバックグラウンドスキャンを止め、すべてのセッションを閉じる
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	if m.started {
		close(m.stopCh)
	}
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.stopCh = make(chan struct{})
	m.started = false
	m.mu.Unlock()

	m.wg.Wait()

	var errs []error
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("セッション %s のクローズに失敗: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Registry はデバイスのレジストリを返す
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Devices は最後に列挙したデバイス一覧を返す
func (m *Manager) Devices() []DeviceInfo {
	return m.registry.Devices()
}

// Refresh はデバイスを再列挙する
func (m *Manager) Refresh(ctx context.Context) ([]DeviceInfo, error) {
	return m.registry.Enumerate(ctx, m.mask)
}

// Open は index 番目のデバイスを開いてセッションとして登録する
// 既にセッションがあるデバイスは ErrDeviceInUse
func (m *Manager) Open(ctx context.Context, index int, mode driver.AccessMode) (*Session, error) {
	info, err := m.registry.Device(index)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.State() == StateClosed {
			delete(m.sessions, id)
			continue
		}
		if s.Device().Key() == info.Key() {
			return nil, fmt.Errorf("%w: %s (セッション %s)", ErrDeviceInUse, info.Key(), s.ID())
		}
	}

	opts := append([]Option{WithLogger(m.logger)}, m.sessionOpts...)
	s, err := Open(ctx, m.drv, info, mode, opts...)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s

	return s, nil
}

// Session は指定されたIDのセッションを返す
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions は開いているセッションを開いた順に返す
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].OpenedAt().Before(sessions[j].OpenedAt())
	})
	return sessions
}

// CloseSession はセッションを閉じて管理対象から外す
func (m *Manager) CloseSession(_ context.Context, id string) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Close()
}

// backgroundScan は定期的にデバイスを再列挙する
// 新しいデバイスは末尾に追加し、取り外しは番号を保つため記録だけにとどめる
func (m *Manager) backgroundScan(ctx context.Context, interval time.Duration, stopCh <-chan struct{}, logger *slog.Logger) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, removed, err := m.registry.Rescan(ctx, m.mask)
			if err != nil {
				logger.Warn("デバイスの再スキャンに失敗しました", "error", err)
				continue
			}
			for _, d := range added {
				logger.Info("デバイスが追加されました", "device", d.Key(), "index", d.Index)
			}
			for _, d := range removed {
				logger.Warn("デバイスが見つかりません。番号を振り直すには再列挙してください", "device", d.Key(), "index", d.Index)
			}
		}
	}
}
