package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"mvcam/internal/driver"
	"mvcam/internal/log"
)

// newTestDriver は初期化済みのMockを返す
func newTestDriver(t *testing.T, devices ...driver.DeviceInfoRaw) *driver.Mock {
	t.Helper()
	if len(devices) == 0 {
		devices = driver.SimulatedDevices()
	}
	m := driver.NewMock(devices...)
	if st := m.Initialize(); !st.OK() {
		t.Fatalf("Initialize failed: %s", st)
	}
	return m
}

// openTestSession は先頭のデバイスを開いたセッションを返す
func openTestSession(t *testing.T, m *driver.Mock) *Session {
	t.Helper()
	ctx := context.Background()
	devices, err := NewRegistry(m).Enumerate(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	s, err := Open(ctx, m, devices[0], driver.AccessExclusive,
		WithLogger(log.Discard()), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegistry_Enumerate(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	registry := NewRegistry(m)

	devices, err := registry.Enumerate(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}

	for i, d := range devices {
		if d.Index != i {
			t.Errorf("Expected device %d to have index %d, got %d", i, i, d.Index)
		}
	}
	if devices[0].Transport != TransportGigE || devices[0].Address != "192.168.1.64" {
		t.Errorf("Unexpected first device: %+v", devices[0])
	}
	if devices[0].Label() != "line-a" {
		t.Errorf("Expected label line-a, got %s", devices[0].Label())
	}
	if devices[1].Label() != "MV-CA050-20UC" {
		t.Errorf("Expected model as label, got %s", devices[1].Label())
	}
}

func TestRegistry_StableOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t,
		driver.DeviceInfoRaw{Transport: driver.TransportUSB, ModelName: "B", SerialNumber: "002"},
		driver.DeviceInfoRaw{Transport: driver.TransportGigE, ModelName: "A", SerialNumber: "009"},
		driver.DeviceInfoRaw{Transport: driver.TransportUSB, ModelName: "C", SerialNumber: "001"},
	)
	registry := NewRegistry(m)

	first, _ := registry.Enumerate(ctx, driver.TransportAll)
	second, _ := registry.Enumerate(ctx, driver.TransportAll)

	want := []string{"009", "001", "002"}
	for i, serial := range want {
		if first[i].Serial != serial || second[i].Serial != serial {
			t.Errorf("Index %d: expected serial %s, got %s / %s", i, serial, first[i].Serial, second[i].Serial)
		}
	}
}

func TestRegistry_EmptyIsNotError(t *testing.T) {
	m := newTestDriver(t, driver.DeviceInfoRaw{Transport: driver.TransportUSB, SerialNumber: "1"})

	devices, err := NewRegistry(m).Enumerate(context.Background(), driver.TransportGigE)
	if err != nil {
		t.Fatalf("Expected no error for zero devices, got %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", devices)
	}
}

func TestRegistry_DriverFailure(t *testing.T) {
	m := newTestDriver(t)
	m.Fail(driver.OpEnumerate, driver.StatusResource)

	_, err := NewRegistry(m).Enumerate(context.Background(), driver.TransportAll)
	var de *DriverError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DriverError, got %v", err)
	}
	if de.Code != driver.StatusResource {
		t.Errorf("Expected code %s, got %s", driver.StatusResource, de.Code)
	}
	if !errors.Is(err, ErrDriver) {
		t.Error("Expected errors.Is(err, ErrDriver)")
	}
}

func TestRegistry_DeviceOutOfRange(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	registry := NewRegistry(m)
	if _, err := registry.Enumerate(ctx, driver.TransportAll); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	createBefore := m.Calls(driver.OpCreateHandle)
	enumBefore := m.Calls(driver.OpEnumerate)

	_, err := registry.Device(5)
	if !errors.Is(err, ErrDeviceIndex) {
		t.Fatalf("Expected ErrDeviceIndex, got %v", err)
	}
	if _, err := registry.Device(-1); !errors.Is(err, ErrDeviceIndex) {
		t.Errorf("Expected ErrDeviceIndex for negative index, got %v", err)
	}

	if m.Calls(driver.OpCreateHandle) != createBefore || m.Calls(driver.OpEnumerate) != enumBefore {
		t.Error("Expected out-of-range lookup not to touch the driver")
	}
}

func TestRegistry_DevicesIsCopy(t *testing.T) {
	m := newTestDriver(t)
	registry := NewRegistry(m)
	registry.Enumerate(context.Background(), driver.TransportAll)

	devices := registry.Devices()
	devices[0].Serial = "changed"

	if d, _ := registry.Device(0); d.Serial == "changed" {
		t.Error("Expected Devices to return a copy")
	}
}

func TestRegistry_HotPlugKeepsIndices(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	registry := NewRegistry(m)

	first, err := registry.Enumerate(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	// 既存より小さいシリアル番号でも末尾に追加される
	m.AddDevice(driver.DeviceInfoRaw{Transport: driver.TransportGigE, ModelName: "MV-CA020-10GC", SerialNumber: "SIM00000000"})
	second, err := registry.Enumerate(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("Expected 3 devices, got %d", len(second))
	}
	for i, d := range first {
		if second[i].Key() != d.Key() || second[i].Index != i {
			t.Errorf("Index %d: expected %s, got %s", i, d.Key(), second[i].Key())
		}
	}
	if second[2].Serial != "SIM00000000" || second[2].Index != 2 {
		t.Errorf("Expected new device at index 2, got %+v", second[2])
	}
}

func TestRegistry_RescanAppendsNewDevices(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	registry := NewRegistry(m)
	registry.Enumerate(ctx, driver.TransportAll)

	m.AddDevice(driver.DeviceInfoRaw{Transport: driver.TransportUSB, ModelName: "MV-CS016-10UC", SerialNumber: "SIM00000000"})
	added, removed, err := registry.Rescan(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if len(added) != 1 || added[0].Serial != "SIM00000000" || len(removed) != 0 {
		t.Fatalf("Unexpected diff: added=%v removed=%v", added, removed)
	}
	if d, err := registry.Device(2); err != nil || d.Serial != "SIM00000000" {
		t.Errorf("Expected new device at index 2, got %+v (%v)", d, err)
	}
	if d, _ := registry.Device(0); d.Serial != "SIM00000001" {
		t.Errorf("Expected index 0 unchanged, got %s", d.Serial)
	}
}

func TestRegistry_RescanKeepsCatalogOnRemoval(t *testing.T) {
	ctx := context.Background()
	m := newTestDriver(t)
	registry := NewRegistry(m)
	before, _ := registry.Enumerate(ctx, driver.TransportAll)

	m.RemoveDevice("SIM00000001")
	_, removed, err := registry.Rescan(ctx, driver.TransportAll)
	if err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if len(removed) != 1 || removed[0].Serial != "SIM00000001" {
		t.Fatalf("Expected SIM00000001 reported as removed, got %v", removed)
	}

	after := registry.Devices()
	if len(after) != len(before) {
		t.Fatalf("Expected catalog to stay at %d devices, got %d", len(before), len(after))
	}
	if d, _ := registry.Device(1); d.Key() != before[1].Key() {
		t.Errorf("Expected index 1 to still be %s, got %s", before[1].Key(), d.Key())
	}

	// 明示的な再列挙で番号を詰める
	devices, _ := registry.Enumerate(ctx, driver.TransportAll)
	if len(devices) != 1 || devices[0].Serial != "SIM00000002" {
		t.Errorf("Expected only SIM00000002 after Enumerate, got %v", devices)
	}
}
