// Package mvs は Hikvision MVS SDK (libMvCameraControl) の driver.Driver 実装
//
// # 前提要件
//   - MVS SDK: /opt/MVS/include にヘッダ、/opt/MVS/lib/64 にライブラリ
//   - ビルドタグ: go build -tags mvs（cgo 有効）
//
// タグなしでビルドした場合、New は ErrUnavailable を返す。
package mvs

import "errors"

// ErrUnavailable はMVS SDKなしでビルドされた場合に返される
var ErrUnavailable = errors.New("MVS SDK が組み込まれていません（-tags mvs でビルドしてください）")
