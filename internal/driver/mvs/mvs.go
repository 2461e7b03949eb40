//go:build mvs && cgo

package mvs

/*
#cgo CFLAGS: -I/opt/MVS/include
#cgo LDFLAGS: -L/opt/MVS/lib/64 -lMvCameraControl

#include <stdlib.h>
#include <string.h>
#include "MvCameraControl.h"

enum { MVCAM_MODEL, MVCAM_USER, MVCAM_SERIAL };

// SpecialInfo は共用体のためGoから直接参照できない
static const unsigned char* mvcam_field(MV_CC_DEVICE_INFO* info, int field, int* size) {
	if (info->nTLayerType == MV_GIGE_DEVICE) {
		MV_GIGE_DEVICE_INFO* g = &info->SpecialInfo.stGigEInfo;
		switch (field) {
		case MVCAM_MODEL:  *size = sizeof(g->chModelName);       return g->chModelName;
		case MVCAM_USER:   *size = sizeof(g->chUserDefinedName); return g->chUserDefinedName;
		case MVCAM_SERIAL: *size = sizeof(g->chSerialNumber);    return g->chSerialNumber;
		}
	} else if (info->nTLayerType == MV_USB_DEVICE) {
		MV_USB3_DEVICE_INFO* u = &info->SpecialInfo.stUsb3VInfo;
		switch (field) {
		case MVCAM_MODEL:  *size = sizeof(u->chModelName);       return u->chModelName;
		case MVCAM_USER:   *size = sizeof(u->chUserDefinedName); return u->chUserDefinedName;
		case MVCAM_SERIAL: *size = sizeof(u->chSerialNumber);    return u->chSerialNumber;
		}
	}
	*size = 0;
	return NULL;
}

static unsigned int mvcam_gige_ip(MV_CC_DEVICE_INFO* info) {
	if (info->nTLayerType != MV_GIGE_DEVICE) {
		return 0;
	}
	return info->SpecialInfo.stGigEInfo.nCurrentIp;
}
*/
import "C"

import (
	"bytes"
	"fmt"
	"sync"
	"unsafe"

	"mvcam/internal/driver"
)

// Driver は libMvCameraControl を cgo で呼び出す driver.Driver 実装
//
// SDKのハンドル（void*）はGo側に渡さず、連番の driver.Handle と対応付けて保持する。
type Driver struct {
	mu      sync.Mutex
	handles map[driver.Handle]unsafe.Pointer
	next    driver.Handle
}

// New はMVS SDKのドライバーを作成する
func New() (driver.Driver, error) {
	return &Driver{
		handles: make(map[driver.Handle]unsafe.Pointer),
		next:    1,
	}, nil
}

func status(ret C.int) driver.Status {
	return driver.Status(uint32(ret))
}

func (d *Driver) ptr(h driver.Handle) (unsafe.Pointer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.handles[h]
	return p, ok
}

func (d *Driver) Initialize() driver.Status {
	return status(C.MV_CC_Initialize())
}

func (d *Driver) Finalize() driver.Status {
	return status(C.MV_CC_Finalize())
}

func (d *Driver) EnumerateDevices(mask driver.TransportMask) (driver.Status, []driver.DeviceInfoRaw) {
	var list C.MV_CC_DEVICE_INFO_LIST
	if st := status(C.MV_CC_EnumDevices(C.uint(mask), &list)); !st.OK() {
		return st, nil
	}

	n := int(list.nDeviceNum)
	if n > len(list.pDeviceInfo) {
		n = len(list.pDeviceInfo)
	}
	devices := make([]driver.DeviceInfoRaw, 0, n)
	for i := 0; i < n; i++ {
		src := list.pDeviceInfo[i]
		if src == nil {
			continue
		}
		// SDK内部のメモリは次回の列挙で無効になるためコピーを保持する
		info := new(C.MV_CC_DEVICE_INFO)
		*info = *src

		raw := driver.DeviceInfoRaw{
			Transport:       driver.TransportMask(info.nTLayerType),
			ModelName:       field(info, C.MVCAM_MODEL),
			UserDefinedName: field(info, C.MVCAM_USER),
			SerialNumber:    field(info, C.MVCAM_SERIAL),
			Token:           info,
		}
		if ip := uint32(C.mvcam_gige_ip(info)); ip != 0 {
			raw.IPAddress = fmt.Sprintf("%d.%d.%d.%d", ip>>24, (ip>>16)&0xff, (ip>>8)&0xff, ip&0xff)
		}
		devices = append(devices, raw)
	}
	return driver.StatusOK, devices
}

func field(info *C.MV_CC_DEVICE_INFO, f C.int) string {
	var size C.int
	p := C.mvcam_field(info, f, &size)
	if p == nil || size == 0 {
		return ""
	}
	b := C.GoBytes(unsafe.Pointer(p), size)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (d *Driver) CreateHandle(info driver.DeviceInfoRaw) (driver.Status, driver.Handle) {
	devInfo, ok := info.Token.(*C.MV_CC_DEVICE_INFO)
	if !ok || devInfo == nil {
		return driver.StatusParameter, 0
	}

	var p unsafe.Pointer
	if st := status(C.MV_CC_CreateHandle(&p, devInfo)); !st.OK() {
		return st, 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.next
	d.next++
	d.handles[h] = p
	return driver.StatusOK, h
}

func (d *Driver) OpenDevice(h driver.Handle, mode driver.AccessMode) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	return status(C.MV_CC_OpenDevice(p, C.uint(mode), 0))
}

func (d *Driver) GetIntParameter(h driver.Handle, name string) (driver.Status, int64) {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle, 0
	}
	key := C.CString(name)
	defer C.free(unsafe.Pointer(key))

	var v C.MVCC_INTVALUE_EX
	st := status(C.MV_CC_GetIntValueEx(p, key, &v))
	if st.OK() {
		return st, int64(v.nCurValue)
	}

	// PixelFormat などの列挙ノードは整数値として読み直す
	var e C.MVCC_ENUMVALUE
	if est := status(C.MV_CC_GetEnumValue(p, key, &e)); est.OK() {
		return est, int64(e.nCurValue)
	}
	return st, 0
}

func (d *Driver) SetIntParameter(h driver.Handle, name string, value int64) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	key := C.CString(name)
	defer C.free(unsafe.Pointer(key))

	st := status(C.MV_CC_SetIntValueEx(p, key, C.int64_t(value)))
	if st.OK() || value < 0 || value > 0xffffffff {
		return st
	}
	if est := status(C.MV_CC_SetEnumValue(p, key, C.uint(value))); est.OK() {
		return est
	}
	return st
}

func (d *Driver) StartGrabbing(h driver.Handle) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	return status(C.MV_CC_StartGrabbing(p))
}

func (d *Driver) StopGrabbing(h driver.Handle) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	return status(C.MV_CC_StopGrabbing(p))
}

func (d *Driver) GetOneFrameTimeout(h driver.Handle, buf []byte, timeoutMs uint32) (driver.Status, driver.FrameInfo) {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle, driver.FrameInfo{}
	}
	if len(buf) == 0 {
		return driver.StatusNoEnoughBuf, driver.FrameInfo{}
	}

	var fi C.MV_FRAME_OUT_INFO_EX
	ret := C.MV_CC_GetOneFrameTimeout(p, (*C.uchar)(unsafe.Pointer(&buf[0])), C.uint(len(buf)), &fi, C.uint(timeoutMs))
	if st := status(ret); !st.OK() {
		return st, driver.FrameInfo{}
	}
	return driver.StatusOK, driver.FrameInfo{
		Width:           uint32(fi.nWidth),
		Height:          uint32(fi.nHeight),
		PixelType:       uint32(fi.enPixelType),
		FrameNumber:     uint32(fi.nFrameNum),
		DeviceTimestamp: uint64(fi.nDevTimeStampHigh)<<32 | uint64(fi.nDevTimeStampLow),
		HostTimestamp:   int64(fi.nHostTimeStamp),
		FrameLen:        uint32(fi.nFrameLen),
	}
}

func (d *Driver) SaveFeatures(h driver.Handle, path string) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	file := C.CString(path)
	defer C.free(unsafe.Pointer(file))
	return status(C.MV_CC_FeatureSave(p, file))
}

func (d *Driver) LoadFeatures(h driver.Handle, path string) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	file := C.CString(path)
	defer C.free(unsafe.Pointer(file))
	return status(C.MV_CC_FeatureLoad(p, file))
}

func (d *Driver) CloseDevice(h driver.Handle) driver.Status {
	p, ok := d.ptr(h)
	if !ok {
		return driver.StatusHandle
	}
	return status(C.MV_CC_CloseDevice(p))
}

func (d *Driver) DestroyHandle(h driver.Handle) driver.Status {
	d.mu.Lock()
	p, ok := d.handles[h]
	delete(d.handles, h)
	d.mu.Unlock()
	if !ok {
		return driver.StatusHandle
	}
	return status(C.MV_CC_DestroyHandle(p))
}
