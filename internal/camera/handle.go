package camera

import (
	"errors"
	"sync"

	"mvcam/internal/driver"
)

// handle はドライバーのハンドルを単独で所有し、一度だけ解放する
type handle struct {
	drv driver.Driver
	id  driver.Handle

	once sync.Once
	err  error
}

func newHandle(drv driver.Driver, id driver.Handle) *handle {
	return &handle{drv: drv, id: id}
}

// release はデバイスを閉じてハンドルを破棄する
// 最初の呼び出しのみ first == true となり、以降は何もしない
func (h *handle) release(closeDevice bool) (first bool, err error) {
	h.once.Do(func() {
		first = true
		var errs []error
		if closeDevice {
			if err := statusError(driver.OpCloseDevice, h.drv.CloseDevice(h.id)); err != nil {
				errs = append(errs, err)
			}
		}
		if err := statusError(driver.OpDestroyHandle, h.drv.DestroyHandle(h.id)); err != nil {
			errs = append(errs, err)
		}
		h.err = errors.Join(errs...)
	})
	return first, h.err
}
