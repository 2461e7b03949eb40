package driver

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Op はMockの呼び出し回数や失敗注入に使う操作名
type Op string

const (
	OpInitialize    Op = "Initialize"
	OpFinalize      Op = "Finalize"
	OpEnumerate     Op = "EnumerateDevices"
	OpCreateHandle  Op = "CreateHandle"
	OpOpenDevice    Op = "OpenDevice"
	OpGetParameter  Op = "GetIntParameter"
	OpSetParameter  Op = "SetIntParameter"
	OpStartGrabbing Op = "StartGrabbing"
	OpStopGrabbing  Op = "StopGrabbing"
	OpGetFrame      Op = "GetOneFrameTimeout"
	OpSaveFeatures  Op = "SaveFeatures"
	OpLoadFeatures  Op = "LoadFeatures"
	OpCloseDevice   Op = "CloseDevice"
	OpDestroyHandle Op = "DestroyHandle"
)

// ParamSpec はMockが公開する整数パラメータの定義
type ParamSpec struct {
	Default  int64
	Min      int64
	Max      int64
	Inc      int64   // 0 の場合は刻み制約なし
	Values   []int64 // 空でなければ列挙値のみ許可
	ReadOnly bool

	// LockedWhileGrabbing は取得中に変更できないパラメータ（Width など）
	LockedWhileGrabbing bool
}

func (p ParamSpec) accepts(v int64) bool {
	if len(p.Values) > 0 {
		for _, allowed := range p.Values {
			if allowed == v {
				return true
			}
		}
		return false
	}
	if v < p.Min || v > p.Max {
		return false
	}
	if p.Inc > 1 && (v-p.Min)%p.Inc != 0 {
		return false
	}
	return true
}

// Mockが扱うピクセル形式と1画素あたりのバイト数
var mockPixelSizes = map[int64]int64{
	0x01080001: 1, // Mono8
	0x01100007: 2, // Mono16
	0x01080009: 1, // BayerRG8
	0x02180014: 3, // RGB8Packed
	0x02180015: 3, // BGR8Packed
	0x02100032: 2, // YUV422 YUYV
}

// DefaultParamSpecs はMockデバイスの標準パラメータ定義を返す
func DefaultParamSpecs() map[string]ParamSpec {
	formats := make([]int64, 0, len(mockPixelSizes))
	for tag := range mockPixelSizes {
		formats = append(formats, tag)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })

	return map[string]ParamSpec{
		"Width":        {Default: 64, Min: 2, Max: 4096, Inc: 2, LockedWhileGrabbing: true},
		"Height":       {Default: 48, Min: 2, Max: 3072, Inc: 2, LockedWhileGrabbing: true},
		"OffsetX":      {Default: 0, Min: 0, Max: 4096, Inc: 2, LockedWhileGrabbing: true},
		"OffsetY":      {Default: 0, Min: 0, Max: 3072, Inc: 2, LockedWhileGrabbing: true},
		"PixelFormat":  {Default: 0x02180014, Values: formats, LockedWhileGrabbing: true},
		"ExposureTime": {Default: 10000, Min: 20, Max: 1000000},
		"Gain":         {Default: 0, Min: 0, Max: 24},
		"TriggerMode":  {Default: 0, Values: []int64{0, 1}},
		"PayloadSize":  {ReadOnly: true},
	}
}

type mockDevice struct {
	raw    DeviceInfoRaw
	params map[string]int64
	owner  *mockHandle // 排他/制御モードで開いているハンドル
}

type mockHandle struct {
	id          Handle
	dev         *mockDevice
	opened      bool
	mode        AccessMode
	grabbing    bool
	destroyed   bool
	frameNumber uint32
	nextFrameAt time.Time
}

// Mock はメモリ上でデバイスを模擬するDriver実装
//
// テストでの利用を想定し、失敗の注入・呼び出し回数の記録・破棄済みハンドルの
// 使用検出を行う。デモ用のシミュレーターとしても使える。
type Mock struct {
	mu          sync.Mutex
	initialized bool
	devices     []*mockDevice
	specs       map[string]ParamSpec
	handles     map[Handle]*mockHandle
	nextHandle  Handle
	failures    map[Op]Status
	calls       map[Op]int
	violations  []string

	// FrameInterval は取得開始後、各フレームが届くまでの間隔
	FrameInterval time.Duration

	// FrameSource が設定されていればフレームの内容を生成する
	FrameSource func(info FrameInfo) []byte
}

// NewMock は指定したデバイスを持つMockを作成する
func NewMock(devices ...DeviceInfoRaw) *Mock {
	m := &Mock{
		specs:      DefaultParamSpecs(),
		handles:    make(map[Handle]*mockHandle),
		nextHandle: 1,
		failures:   make(map[Op]Status),
		calls:      make(map[Op]int),
	}
	for _, raw := range devices {
		m.addDeviceLocked(raw)
	}
	return m
}

// SimulatedDevices はデモ用のデバイス一覧を返す
func SimulatedDevices() []DeviceInfoRaw {
	return []DeviceInfoRaw{
		{
			Transport:       TransportGigE,
			ModelName:       "MV-CA013-20GC",
			UserDefinedName: "line-a",
			SerialNumber:    "SIM00000001",
			IPAddress:       "192.168.1.64",
		},
		{
			Transport:       TransportUSB,
			ModelName:       "MV-CA050-20UC",
			UserDefinedName: "",
			SerialNumber:    "SIM00000002",
		},
	}
}

func (m *Mock) addDeviceLocked(raw DeviceInfoRaw) {
	if raw.Token == nil {
		raw.Token = raw.SerialNumber
	}
	params := make(map[string]int64, len(m.specs))
	for name, spec := range m.specs {
		if !spec.ReadOnly {
			params[name] = spec.Default
		}
	}
	m.devices = append(m.devices, &mockDevice{raw: raw, params: params})
}

// AddDevice はテスト用にデバイスを追加する（ホットプラグの模擬）
func (m *Mock) AddDevice(raw DeviceInfoRaw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDeviceLocked(raw)
}

// RemoveDevice はテスト用にデバイスを取り外す
func (m *Mock) RemoveDevice(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, dev := range m.devices {
		if dev.raw.SerialNumber == serial {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

// SetParamSpec はパラメータ定義を追加・上書きする。既存デバイスにも既定値を適用する
func (m *Mock) SetParamSpec(name string, spec ParamSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[name] = spec
	for _, dev := range m.devices {
		if spec.ReadOnly {
			delete(dev.params, name)
		} else {
			dev.params[name] = spec.Default
		}
	}
}

// Param はデバイスに保存されているパラメータ値を返す
func (m *Mock) Param(serial, name string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dev := range m.devices {
		if dev.raw.SerialNumber == serial {
			v, ok := dev.params[name]
			return v, ok
		}
	}
	return 0, false
}

// Fail は op が以後 status を返すように設定する
func (m *Mock) Fail(op Op, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = status
}

// Clear は op に注入した失敗を解除する
func (m *Mock) Clear(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, op)
}

// Calls は op が呼ばれた回数を返す
func (m *Mock) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Violations は破棄済み・未知のハンドルが使われた記録を返す
func (m *Mock) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// OpenHandles は破棄されていないハンドルの数を返す
func (m *Mock) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if !h.destroyed {
			n++
		}
	}
	return n
}

// enter は呼び出しを記録し、注入された失敗があれば返す（ロック済み前提）
func (m *Mock) enter(op Op) Status {
	m.calls[op]++
	if st, ok := m.failures[op]; ok {
		return st
	}
	return StatusOK
}

// lookup はハンドルを検証する（ロック済み前提）
func (m *Mock) lookup(op Op, h Handle) (*mockHandle, Status) {
	mh, ok := m.handles[h]
	if !ok {
		m.violations = append(m.violations, fmt.Sprintf("%s: 未知のハンドル %d", op, h))
		return nil, StatusHandle
	}
	if mh.destroyed {
		m.violations = append(m.violations, fmt.Sprintf("%s: 破棄済みハンドル %d", op, h))
		return nil, StatusHandle
	}
	return mh, StatusOK
}

// openHandle は開かれたハンドルを要求する操作用の検証（ロック済み前提）
func (m *Mock) openHandle(op Op, h Handle) (*mockHandle, Status) {
	mh, st := m.lookup(op, h)
	if !st.OK() {
		return nil, st
	}
	if !mh.opened {
		return nil, StatusCallOrder
	}
	return mh, StatusOK
}

func (m *Mock) Initialize() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpInitialize); !st.OK() {
		return st
	}
	m.initialized = true
	return StatusOK
}

func (m *Mock) Finalize() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpFinalize); !st.OK() {
		return st
	}
	m.initialized = false
	return StatusOK
}

func (m *Mock) EnumerateDevices(mask TransportMask) (Status, []DeviceInfoRaw) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpEnumerate); !st.OK() {
		return st, nil
	}
	if !m.initialized {
		return StatusCallOrder, nil
	}
	var list []DeviceInfoRaw
	for _, dev := range m.devices {
		if dev.raw.Transport&mask != 0 {
			list = append(list, dev.raw)
		}
	}
	return StatusOK, list
}

func (m *Mock) CreateHandle(info DeviceInfoRaw) (Status, Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpCreateHandle); !st.OK() {
		return st, 0
	}
	if !m.initialized {
		return StatusCallOrder, 0
	}
	for _, dev := range m.devices {
		if dev.raw.Token == info.Token && info.Token != nil {
			h := &mockHandle{id: m.nextHandle, dev: dev}
			m.handles[h.id] = h
			m.nextHandle++
			return StatusOK, h.id
		}
	}
	return StatusParameter, 0
}

func (m *Mock) OpenDevice(h Handle, mode AccessMode) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpOpenDevice); !st.OK() {
		return st
	}
	mh, st := m.lookup(OpOpenDevice, h)
	if !st.OK() {
		return st
	}
	if mh.opened {
		return StatusCallOrder
	}
	if !m.attached(mh.dev) {
		return StatusNetwork
	}
	if mode != AccessMonitor {
		if mh.dev.owner != nil {
			return StatusAccessDenied
		}
		mh.dev.owner = mh
	}
	mh.opened = true
	mh.mode = mode
	return StatusOK
}

func (m *Mock) attached(dev *mockDevice) bool {
	for _, d := range m.devices {
		if d == dev {
			return true
		}
	}
	return false
}

func (m *Mock) GetIntParameter(h Handle, name string) (Status, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpGetParameter); !st.OK() {
		return st, 0
	}
	mh, st := m.openHandle(OpGetParameter, h)
	if !st.OK() {
		return st, 0
	}
	if _, ok := m.specs[name]; !ok {
		return StatusGCProperty, 0
	}
	if name == "PayloadSize" {
		return StatusOK, m.payloadSize(mh.dev)
	}
	return StatusOK, mh.dev.params[name]
}

func (m *Mock) payloadSize(dev *mockDevice) int64 {
	bpp, ok := mockPixelSizes[dev.params["PixelFormat"]]
	if !ok {
		bpp = 1
	}
	return dev.params["Width"] * dev.params["Height"] * bpp
}

func (m *Mock) SetIntParameter(h Handle, name string, value int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpSetParameter); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpSetParameter, h)
	if !st.OK() {
		return st
	}
	if st := m.checkWritable(mh, name, value); !st.OK() {
		return st
	}
	mh.dev.params[name] = value
	return StatusOK
}

// checkWritable はパラメータに value を書き込めるか検証する（ロック済み前提）
func (m *Mock) checkWritable(mh *mockHandle, name string, value int64) Status {
	spec, ok := m.specs[name]
	if !ok {
		return StatusGCProperty
	}
	if spec.ReadOnly || mh.mode == AccessMonitor {
		return StatusGCAccess
	}
	if spec.LockedWhileGrabbing && m.grabbing(mh.dev) {
		return StatusGCAccess
	}
	if !spec.accepts(value) {
		return StatusGCRange
	}
	return StatusOK
}

func (m *Mock) grabbing(dev *mockDevice) bool {
	for _, h := range m.handles {
		if h.dev == dev && h.grabbing && !h.destroyed {
			return true
		}
	}
	return false
}

func (m *Mock) StartGrabbing(h Handle) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpStartGrabbing); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpStartGrabbing, h)
	if !st.OK() {
		return st
	}
	if mh.grabbing {
		return StatusCallOrder
	}
	mh.grabbing = true
	mh.nextFrameAt = time.Now().Add(m.FrameInterval)
	return StatusOK
}

func (m *Mock) StopGrabbing(h Handle) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpStopGrabbing); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpStopGrabbing, h)
	if !st.OK() {
		return st
	}
	if !mh.grabbing {
		return StatusCallOrder
	}
	mh.grabbing = false
	return StatusOK
}

func (m *Mock) GetOneFrameTimeout(h Handle, buf []byte, timeoutMs uint32) (Status, FrameInfo) {
	m.mu.Lock()
	if st := m.enter(OpGetFrame); !st.OK() {
		m.mu.Unlock()
		return st, FrameInfo{}
	}
	mh, st := m.openHandle(OpGetFrame, h)
	if !st.OK() {
		m.mu.Unlock()
		return st, FrameInfo{}
	}
	if !mh.grabbing {
		m.mu.Unlock()
		return StatusCallOrder, FrameInfo{}
	}
	wait := time.Until(mh.nextFrameAt)
	timeout := time.Duration(timeoutMs) * time.Millisecond
	m.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return StatusNoData, FrameInfo{}
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mh.destroyed || !mh.grabbing {
		return StatusCallOrder, FrameInfo{}
	}
	if !m.attached(mh.dev) {
		return StatusNetwork, FrameInfo{}
	}

	params := mh.dev.params
	info := FrameInfo{
		Width:       uint32(params["Width"]),
		Height:      uint32(params["Height"]),
		PixelType:   uint32(params["PixelFormat"]),
		FrameNumber: mh.frameNumber,
	}
	var data []byte
	if m.FrameSource != nil {
		data = m.FrameSource(info)
	} else {
		data = testPattern(int(m.payloadSize(mh.dev)), mh.frameNumber)
	}
	if len(data) > len(buf) {
		return StatusNoEnoughBuf, FrameInfo{}
	}
	copy(buf, data)

	now := time.Now()
	info.FrameLen = uint32(len(data))
	info.HostTimestamp = now.UnixMilli()
	info.DeviceTimestamp = uint64(now.UnixNano())
	mh.frameNumber++
	mh.nextFrameAt = now.Add(m.FrameInterval)
	return StatusOK, info
}

// testPattern はフレーム番号ごとにずれるグラデーションを生成する
func testPattern(size int, seq uint32) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i + int(seq))
	}
	return data
}

// featureFile はMockが保存するフィーチャーファイルの形式
type featureFile struct {
	Model      string           `yaml:"model"`
	Serial     string           `yaml:"serial"`
	Parameters map[string]int64 `yaml:"parameters"`
}

func (m *Mock) SaveFeatures(h Handle, path string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpSaveFeatures); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpSaveFeatures, h)
	if !st.OK() {
		return st
	}

	doc := featureFile{
		Model:      mh.dev.raw.ModelName,
		Serial:     mh.dev.raw.SerialNumber,
		Parameters: make(map[string]int64, len(mh.dev.params)),
	}
	for name, v := range mh.dev.params {
		doc.Parameters[name] = v
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return StatusResource
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return StatusResource
	}
	return StatusOK
}

func (m *Mock) LoadFeatures(h Handle, path string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpLoadFeatures); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpLoadFeatures, h)
	if !st.OK() {
		return st
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return StatusResource
	}
	var doc featureFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return StatusParameter
	}
	if doc.Model != mh.dev.raw.ModelName {
		return StatusVersion
	}

	// すべて検証してから適用する（部分的な適用はしない）
	for name, v := range doc.Parameters {
		if current, ok := mh.dev.params[name]; ok && current == v {
			continue
		}
		if st := m.checkWritable(mh, name, v); !st.OK() {
			return st
		}
	}
	for name, v := range doc.Parameters {
		mh.dev.params[name] = v
	}
	return StatusOK
}

func (m *Mock) CloseDevice(h Handle) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpCloseDevice); !st.OK() {
		return st
	}
	mh, st := m.openHandle(OpCloseDevice, h)
	if !st.OK() {
		return st
	}
	m.closeLocked(mh)
	return StatusOK
}

func (m *Mock) closeLocked(mh *mockHandle) {
	mh.grabbing = false
	mh.opened = false
	if mh.dev.owner == mh {
		mh.dev.owner = nil
	}
}

func (m *Mock) DestroyHandle(h Handle) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.enter(OpDestroyHandle); !st.OK() {
		return st
	}
	mh, st := m.lookup(OpDestroyHandle, h)
	if !st.OK() {
		return st
	}
	if mh.opened {
		m.closeLocked(mh)
	}
	mh.destroyed = true
	return StatusOK
}
