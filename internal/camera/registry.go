package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mvcam/internal/driver"
)

// Registry はドライバー経由でデバイスを列挙し、最後の列挙結果を保持する
//
// 一度見つかったデバイスには発見順の順位を記録し、以後の列挙でも同じ順に並べる。
// 新しく接続されたデバイスは末尾に追加されるため、既存のデバイスの番号は変わらない。
type Registry struct {
	drv driver.Driver

	mu      sync.RWMutex
	devices []DeviceInfo
	rank    map[string]int // Key ごとの発見順
	next    int
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(drv driver.Driver) *Registry {
	return &Registry{drv: drv, rank: make(map[string]int)}
}

// Enumerate は mask に一致するデバイスを列挙し、カタログを置き換える
//
// デバイスが見つからない場合はエラーではなく空のスライスを返す。
// 初回は接続方式・シリアル番号・モデル名の順で並べ、以後は発見順を保つ。
// 取り外されたデバイスより後ろの番号は詰められる。
func (r *Registry) Enumerate(ctx context.Context, mask driver.TransportMask) ([]DeviceInfo, error) {
	devices, err := r.scan(ctx, mask)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	return copyDevices(devices), nil
}

// Rescan はデバイスを再列挙し、前回のカタログとの差分を返す
//
// 取り外されたデバイスがなければカタログを更新する（新しいデバイスは末尾に入る）。
// 取り外しがあった場合は番号がずれるため、カタログはそのまま残す。
// 番号を振り直すには Enumerate を呼ぶ。
func (r *Registry) Rescan(ctx context.Context, mask driver.TransportMask) (added, removed []DeviceInfo, err error) {
	devices, err := r.scan(ctx, mask)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	present := make(map[string]bool, len(devices))
	for _, d := range devices {
		present[d.Key()] = true
	}
	known := make(map[string]bool, len(r.devices))
	for _, d := range r.devices {
		known[d.Key()] = true
		if !present[d.Key()] {
			removed = append(removed, d)
		}
	}
	for _, d := range devices {
		if !known[d.Key()] {
			added = append(added, d)
		}
	}

	if len(removed) == 0 {
		r.devices = devices
	}
	return added, removed, nil
}

// scan はドライバーで列挙し、発見順に並べて番号を振る
func (r *Registry) scan(ctx context.Context, mask driver.TransportMask) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, raws := r.drv.EnumerateDevices(mask)
	if err := statusError(driver.OpEnumerate, st); err != nil {
		return nil, fmt.Errorf("デバイスの列挙に失敗: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(raws))
	for _, raw := range raws {
		devices = append(devices, newDeviceInfo(raw))
	}

	// 同じ構成なら同じ順になるよう、初めて見るデバイスは機種情報で並べてから順位を付ける
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.raw.Transport != b.raw.Transport {
			return a.raw.Transport < b.raw.Transport
		}
		if a.Serial != b.Serial {
			return a.Serial < b.Serial
		}
		return a.Model < b.Model
	})

	r.mu.Lock()
	for _, d := range devices {
		if _, ok := r.rank[d.Key()]; !ok {
			r.rank[d.Key()] = r.next
			r.next++
		}
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return r.rank[devices[i].Key()] < r.rank[devices[j].Key()]
	})
	r.mu.Unlock()

	for i := range devices {
		devices[i].Index = i
	}
	return devices, nil
}

func copyDevices(devices []DeviceInfo) []DeviceInfo {
	result := make([]DeviceInfo, len(devices))
	copy(result, devices)
	return result
}

// Device は最後の列挙結果から index 番目のデバイスを返す
// 範囲外の場合はドライバーを呼ばずに ErrDeviceIndex を返す
func (r *Registry) Device(index int) (DeviceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= len(r.devices) {
		return DeviceInfo{}, fmt.Errorf("%w: %d (検出数 %d)", ErrDeviceIndex, index, len(r.devices))
	}
	return r.devices[index], nil
}

// Devices は最後の列挙結果のコピーを返す
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return copyDevices(r.devices)
}
