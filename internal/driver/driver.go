package driver

import (
	"fmt"
	"strings"
)

// Status はベンダーSDKの戻り値を表す
// StatusOK 以外はすべてドライバーが報告した失敗コード
type Status uint32

// ベンダーSDKの主なステータスコード
const (
	StatusOK Status = 0x00000000

	StatusHandle       Status = 0x80000000 // 無効なハンドル
	StatusSupport      Status = 0x80000001 // 未対応の機能
	StatusBufferOver   Status = 0x80000002 // バッファオーバーフロー
	StatusCallOrder    Status = 0x80000003 // 呼び出し順序の誤り
	StatusParameter    Status = 0x80000004 // 不正なパラメータ
	StatusResource     Status = 0x80000006 // リソース確保の失敗
	StatusNoData       Status = 0x80000007 // データなし（タイムアウト）
	StatusPrecondition Status = 0x80000008 // 前提条件の不成立
	StatusVersion      Status = 0x80000009 // バージョン不一致
	StatusNoEnoughBuf  Status = 0x8000000A // バッファ不足
	StatusUnknown      Status = 0x800000FF // 不明なエラー

	StatusGCGeneric  Status = 0x80000100 // GenICam 汎用エラー
	StatusGCArgument Status = 0x80000101 // GenICam 引数エラー
	StatusGCRange    Status = 0x80000102 // 値が範囲外
	StatusGCProperty Status = 0x80000103 // 存在しないノード
	StatusGCRuntime  Status = 0x80000104 // GenICam 実行時エラー
	StatusGCAccess   Status = 0x80000106 // ノードにアクセスできない
	StatusGCTimeout  Status = 0x80000107 // GenICam タイムアウト

	StatusAccessDenied Status = 0x80000203 // アクセス拒否
	StatusBusy         Status = 0x80000204 // デバイス使用中
	StatusNetwork      Status = 0x80000206 // ネットワークエラー

	StatusUSBRead   Status = 0x80000300 // USB 読み込みエラー
	StatusUSBWrite  Status = 0x80000301 // USB 書き込みエラー
	StatusUSBDevice Status = 0x80000302 // USB デバイス異常
)

var statusNames = map[Status]string{
	StatusOK:           "OK",
	StatusHandle:       "HANDLE",
	StatusSupport:      "SUPPORT",
	StatusBufferOver:   "BUFOVER",
	StatusCallOrder:    "CALLORDER",
	StatusParameter:    "PARAMETER",
	StatusResource:     "RESOURCE",
	StatusNoData:       "NODATA",
	StatusPrecondition: "PRECONDITION",
	StatusVersion:      "VERSION",
	StatusNoEnoughBuf:  "NOENOUGH_BUF",
	StatusUnknown:      "UNKNOW",
	StatusGCGeneric:    "GC_GENERIC",
	StatusGCArgument:   "GC_ARGUMENT",
	StatusGCRange:      "GC_RANGE",
	StatusGCProperty:   "GC_PROPERTY",
	StatusGCRuntime:    "GC_RUNTIME",
	StatusGCAccess:     "GC_ACCESS",
	StatusGCTimeout:    "GC_TIMEOUT",
	StatusAccessDenied: "ACCESS_DENIED",
	StatusBusy:         "BUSY",
	StatusNetwork:      "NETER",
	StatusUSBRead:      "USB_READ",
	StatusUSBWrite:     "USB_WRITE",
	StatusUSBDevice:    "USB_DEVICE",
}

// OK は成功ステータスかどうかを返す
func (s Status) OK() bool {
	return s == StatusOK
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("0x%08X %s", uint32(s), name)
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// TransportMask は列挙対象のトランスポート層を表すビットマスク
type TransportMask uint32

const (
	TransportGigE TransportMask = 0x00000001
	TransportUSB  TransportMask = 0x00000004
	TransportAll                = TransportGigE | TransportUSB
)

// ParseTransport は設定値の文字列をTransportMaskに変換する
func ParseTransport(s string) (TransportMask, error) {
	var mask TransportMask
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "", "all":
			mask |= TransportAll
		case "gige":
			mask |= TransportGigE
		case "usb", "usb3":
			mask |= TransportUSB
		default:
			return 0, fmt.Errorf("不明なトランスポート: %q", part)
		}
	}
	return mask, nil
}

// AccessMode はデバイスを開く際のアクセス権限
type AccessMode uint32

const (
	AccessExclusive AccessMode = 1
	AccessControl   AccessMode = 3
	AccessMonitor   AccessMode = 7
)

func (m AccessMode) String() string {
	switch m {
	case AccessExclusive:
		return "exclusive"
	case AccessControl:
		return "control"
	case AccessMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("access(%d)", uint32(m))
	}
}

// ParseAccessMode は設定値の文字列をAccessModeに変換する
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return AccessExclusive, nil
	case "control":
		return AccessControl, nil
	case "monitor":
		return AccessMonitor, nil
	default:
		return 0, fmt.Errorf("不明なアクセスモード: %q", s)
	}
}

// Handle はドライバーが発行する不透明なデバイスハンドル
// ゼロ値は無効なハンドルを表す
type Handle uintptr

// DeviceInfoRaw はドライバーが列挙した1台分のデバイス情報
type DeviceInfoRaw struct {
	Transport       TransportMask
	ModelName       string
	UserDefinedName string
	SerialNumber    string
	IPAddress       string // GigE のみ

	// Token はドライバー固有の識別子。CreateHandle にそのまま渡される
	Token any
}

// FrameInfo は GetOneFrameTimeout が返すフレームのメタデータ
type FrameInfo struct {
	Width           uint32
	Height          uint32
	PixelType       uint32
	FrameNumber     uint32
	DeviceTimestamp uint64
	HostTimestamp   int64 // ミリ秒
	FrameLen        uint32
}

// Driver はベンダーSDKの機能をまとめたインターフェース
//
// すべての操作は Status を返し、StatusOK 以外はドライバーが報告した失敗を表す。
// 同じハンドルに対する呼び出しは呼び出し側で直列化する前提とする。
type Driver interface {
	// Initialize はSDKを初期化する。他の操作より先に呼ぶ必要がある
	Initialize() Status

	// Finalize はSDKの後始末を行う
	Finalize() Status

	// EnumerateDevices は接続されているデバイスを列挙する
	EnumerateDevices(mask TransportMask) (Status, []DeviceInfoRaw)

	// CreateHandle はデバイス用のハンドルを作成する
	CreateHandle(info DeviceInfoRaw) (Status, Handle)

	// OpenDevice はデバイスを開く
	OpenDevice(h Handle, mode AccessMode) Status

	// GetIntParameter は整数パラメータを取得する
	GetIntParameter(h Handle, name string) (Status, int64)

	// SetIntParameter は整数パラメータを設定する
	SetIntParameter(h Handle, name string, value int64) Status

	// StartGrabbing は画像取得を開始する
	StartGrabbing(h Handle) Status

	// StopGrabbing は画像取得を停止する
	StopGrabbing(h Handle) Status

	// GetOneFrameTimeout は1フレームを buf に書き込む。timeoutMs 以内に届かなければ StatusNoData
	GetOneFrameTimeout(h Handle, buf []byte, timeoutMs uint32) (Status, FrameInfo)

	// SaveFeatures はデバイス設定をファイルに保存する
	SaveFeatures(h Handle, path string) Status

	// LoadFeatures はファイルからデバイス設定を読み込む
	LoadFeatures(h Handle, path string) Status

	// CloseDevice はデバイスを閉じる
	CloseDevice(h Handle) Status

	// DestroyHandle はハンドルを破棄する
	DestroyHandle(h Handle) Status
}
