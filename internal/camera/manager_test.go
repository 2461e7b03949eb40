package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"mvcam/internal/driver"
	"mvcam/internal/log"
)

func newTestManager(t *testing.T, m *driver.Mock) *Manager {
	t.Helper()
	manager := NewManager(m, driver.TransportAll, WithPollInterval(10*time.Millisecond))
	manager.SetLogger(log.Discard())
	manager.SetScanInterval(0)
	return manager
}

func TestManager_Basic(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)

	// Start
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	devices := manager.Devices()
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}

	s, err := manager.Open(ctx, 0, driver.AccessExclusive)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Device().Serial != devices[0].Serial {
		t.Errorf("Expected serial %s, got %s", devices[0].Serial, s.Device().Serial)
	}

	got, err := manager.Session(s.ID())
	if err != nil || got != s {
		t.Errorf("Expected to find session %s, got %v (%v)", s.ID(), got, err)
	}

	// Stop
	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("Expected session to be closed by Stop, got %s", s.State())
	}
	if len(manager.Sessions()) != 0 {
		t.Errorf("Expected no sessions after Stop, got %d", len(manager.Sessions()))
	}
	if m.OpenHandles() != 0 {
		t.Errorf("Expected all handles released, %d remain", m.OpenHandles())
	}
}

func TestManager_OpenSameDeviceTwice(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)
	defer func() { _ = manager.Stop(ctx) }()

	if _, err := manager.Open(ctx, 0, driver.AccessExclusive); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	creates := m.Calls(driver.OpCreateHandle)

	if _, err := manager.Open(ctx, 0, driver.AccessMonitor); !errors.Is(err, ErrDeviceInUse) {
		t.Errorf("Expected ErrDeviceInUse, got %v", err)
	}
	if m.Calls(driver.OpCreateHandle) != creates {
		t.Error("Expected in-use check to happen before the driver call")
	}

	if _, err := manager.Open(ctx, 1, driver.AccessExclusive); err != nil {
		t.Errorf("Expected second device to open, got %v", err)
	}
	if len(manager.Sessions()) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(manager.Sessions()))
	}
}

func TestManager_OpenIndexOutOfRange(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)
	defer func() { _ = manager.Stop(ctx) }()

	if _, err := manager.Open(ctx, 5, driver.AccessExclusive); !errors.Is(err, ErrDeviceIndex) {
		t.Fatalf("Expected ErrDeviceIndex, got %v", err)
	}
	if m.Calls(driver.OpCreateHandle) != 0 {
		t.Error("Expected out-of-range open not to touch the driver")
	}
}

func TestManager_CloseSession(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)
	defer func() { _ = manager.Stop(ctx) }()

	s, _ := manager.Open(ctx, 0, driver.AccessExclusive)
	if err := manager.CloseSession(ctx, s.ID()); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := manager.Session(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := manager.CloseSession(ctx, s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for second close, got %v", err)
	}

	// 閉じたデバイスは再度開ける
	if _, err := manager.Open(ctx, 0, driver.AccessExclusive); err != nil {
		t.Errorf("Expected reopen to succeed, got %v", err)
	}
}

func TestManager_ReopenAfterDirectClose(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)
	defer func() { _ = manager.Stop(ctx) }()

	s, _ := manager.Open(ctx, 0, driver.AccessExclusive)
	s.Close()

	if _, err := manager.Open(ctx, 0, driver.AccessExclusive); err != nil {
		t.Errorf("Expected reopen after direct close to succeed, got %v", err)
	}
}

func TestManager_Refresh(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)
	defer func() { _ = manager.Stop(ctx) }()

	m.AddDevice(driver.DeviceInfoRaw{Transport: driver.TransportUSB, ModelName: "MV-CS016-10UC", SerialNumber: "SIM00000003"})
	devices, err := manager.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("Expected 3 devices after hot-plug, got %d", len(devices))
	}

	m.RemoveDevice("SIM00000001")
	devices, _ = manager.Refresh(ctx)
	if len(devices) != 2 {
		t.Errorf("Expected 2 devices after removal, got %d", len(devices))
	}
}

func TestManager_BackgroundScan(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.SetScanInterval(10 * time.Millisecond)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.AddDevice(driver.DeviceInfoRaw{Transport: driver.TransportGigE, ModelName: "MV-CA060-10GC", SerialNumber: "SIM00000004"})

	deadline := time.Now().Add(2 * time.Second)
	for len(manager.Devices()) != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(manager.Devices()) != 3 {
		t.Errorf("Expected background scan to pick up new device, got %d", len(manager.Devices()))
	}

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_BackgroundScanKeepsIndicesOnRemoval(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.SetScanInterval(10 * time.Millisecond)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	m.RemoveDevice("SIM00000001")
	before := m.Calls(driver.OpEnumerate)
	deadline := time.Now().Add(2 * time.Second)
	for m.Calls(driver.OpEnumerate) < before+2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	devices := manager.Devices()
	if len(devices) != 2 || devices[1].Serial != "SIM00000002" {
		t.Errorf("Expected background scan to keep indices, got %v", devices)
	}
}

func TestManager_StartFailure(t *testing.T) {
	m := newTestDriver(t)
	m.Fail(driver.OpEnumerate, driver.StatusResource)
	manager := newTestManager(t, m)

	if err := manager.Start(context.Background()); !errors.Is(err, ErrDriver) {
		t.Errorf("Expected ErrDriver from Start, got %v", err)
	}
}

func TestManager_StopJoinsErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	manager := newTestManager(t, m)
	manager.Start(ctx)

	manager.Open(ctx, 0, driver.AccessExclusive)
	manager.Open(ctx, 1, driver.AccessExclusive)
	m.Fail(driver.OpDestroyHandle, driver.StatusUnknown)

	err := manager.Stop(ctx)
	var de *DriverError
	if !errors.As(err, &de) || de.Code != driver.StatusUnknown {
		t.Errorf("Expected joined DriverError UNKNOW, got %v", err)
	}
}
