// Package camera 産業用カメラ（GigE Vision / USB3 Vision）のセッション管理を担う
//
// # 責務
// - ドライバー経由のデバイス列挙と番号による選択（Registry）
// - デバイスを開いてから閉じるまでの状態遷移（Session）
// - 複数セッションの統合管理と定期的な再スキャン（Manager）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 接続されているカメラを列挙して番号で選びたい
// - パラメータの取得・設定やフレーム取得を安全に行いたい
// - 複数のカメラを同時に開いて管理したい
//
// # 仕様
//   - Session の状態: Closed → Opened → Streaming
//   - Close は何度呼んでもよく、ハンドルは一度だけ破棄される
//   - 状態違反はドライバーを呼ばずに InvalidStateError を返す
//   - ドライバーの失敗コードは DriverError としてそのまま返す
//   - 取得中の StopStreaming / Close はポーリング間隔以内に取得を中断させる
//   - Thread-safe な操作をサポート
//
// # 前提要件
//   - driver.Driver の実装（実機は internal/driver/mvs、テストは driver.Mock）
//   - Initialize 済みのドライバーを渡すこと（internal/sdk が担う）
package camera
