// Package server は、カメラセッションを操作するHTTP APIを提供します。
//
// 責務:
//   - デバイス一覧の取得と再列挙
//   - セッションの作成・ストリーミング制御・クローズ
//   - フレームの取得とPNG/JPEGでの配信
//   - パラメータとフィーチャーファイルの操作
//   - 定期取得（recorder）の開始と停止
//
// 仕様:
//   - ルーティングは gin を使用
//   - エラーは {error, message, timestamp} のJSONで返す
//   - シャットダウン時はすべてのセッションを閉じる
package server
