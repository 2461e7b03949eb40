//go:build !(mvs && cgo)

package mvs

import "mvcam/internal/driver"

// New はMVS SDKなしのビルドでは常に ErrUnavailable を返す
func New() (driver.Driver, error) {
	return nil, ErrUnavailable
}
