package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mvcam/internal/camera"
	"mvcam/internal/driver"
	"mvcam/internal/feature"
	"mvcam/internal/frame"
	"mvcam/internal/recorder"
)

// errBadRequest はリクエスト自体の誤り
var errBadRequest = errors.New("不正なリクエスト")

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Driver    string     `json:"driver"`
	Devices   int        `json:"devices"`
	Sessions  int        `json:"sessions"`
	Recording int        `json:"recording"`
	Timestamp time.Time  `json:"timestamp"`
}

// DevicesResponse はデバイス一覧のレスポンス
type DevicesResponse struct {
	Devices []camera.DeviceInfo `json:"devices"`
}

// GeometryInfo はストリーミング中のフレーム情報
type GeometryInfo struct {
	camera.FrameGeometry
	PixelFormatName string `json:"pixel_format_name"`
}

// SessionInfo はセッション情報
type SessionInfo struct {
	ID       string            `json:"id"`
	Device   camera.DeviceInfo `json:"device"`
	Access   string            `json:"access"`
	State    camera.State      `json:"state"`
	OpenedAt time.Time         `json:"opened_at"`
	Geometry *GeometryInfo     `json:"geometry,omitempty"`
}

// SessionsResponse はセッション一覧のレスポンス
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ParameterResponse はパラメータ値のレスポンス
type ParameterResponse struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// sessionInfo はセッションをレスポンス用に変換する
func sessionInfo(s *camera.Session) SessionInfo {
	info := SessionInfo{
		ID:       s.ID(),
		Device:   s.Device(),
		Access:   s.Mode().String(),
		State:    s.State(),
		OpenedAt: s.OpenedAt(),
	}
	if geom, ok := s.Geometry(); ok {
		info.Geometry = &GeometryInfo{
			FrameGeometry:   geom,
			PixelFormatName: frame.PixelFormat(geom.PixelFormat).String(),
		}
	}
	return info
}

// errorStatus はエラーを HTTP ステータスとエラーコードに対応付ける
func errorStatus(err error) (int, string) {
	var pe *feature.PersistenceError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, camera.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, camera.ErrDeviceIndex):
		return http.StatusNotFound, "device_not_found"
	case errors.Is(err, camera.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, camera.ErrDeviceInUse):
		return http.StatusConflict, "device_in_use"
	case errors.Is(err, camera.ErrCaptureBusy):
		return http.StatusConflict, "capture_busy"
	case errors.Is(err, camera.ErrCaptureCancelled):
		return http.StatusConflict, "capture_cancelled"
	case deviceBusy(err):
		return http.StatusConflict, "device_busy"
	case errors.Is(err, recorder.ErrRecording):
		return http.StatusConflict, "already_recording"
	case errors.Is(err, camera.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, frame.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, frame.ErrMalformedFrame):
		return http.StatusBadGateway, "malformed_frame"
	case errors.Is(err, camera.ErrBufferTooSmall):
		return http.StatusInternalServerError, "buffer_too_small"
	case errors.Is(err, camera.ErrParameter):
		return http.StatusBadRequest, "parameter_error"
	case errors.As(err, &pe) && pe.Kind == feature.KindIO:
		return http.StatusBadRequest, "persistence_error"
	default:
		return http.StatusBadGateway, "driver_error"
	}
}

// deviceBusy は他のプロセスがデバイスを使用中で開けなかったかを返す
func deviceBusy(err error) bool {
	var de *camera.DriverError
	if !errors.Is(err, camera.ErrOpen) || !errors.As(err, &de) {
		return false
	}
	return de.Code == driver.StatusAccessDenied || de.Code == driver.StatusBusy
}

// writeError はエラーレスポンスを書き込む
func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
