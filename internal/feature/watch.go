package feature

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce はエディタ等の連続書き込みをまとめる待ち時間
const watchDebounce = 100 * time.Millisecond

// Watch は path の変更を監視し、書き込みのたびにセッションへ読み込み直す
//
// 読み込みの失敗はログに出力し、返されるチャンネルにも送る（受信側が詰まっていれば捨てる）。
// ctx がキャンセルされると監視を終了し、チャンネルを閉じる。
func (st *Store) Watch(ctx context.Context, s Session, path string) (<-chan error, error) {
	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("パスの解決に失敗: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("ファイル監視の登録に失敗 %s: %w", filepath.Dir(target), err)
	}

	errs := make(chan error, 1)
	report := func(err error) {
		st.logger.Warn("フィーチャーファイルの再読み込みに失敗しました", "path", target, "error", err)
		select {
		case errs <- err:
		default:
		}
	}

	go func() {
		defer close(errs)
		defer watcher.Close()

		timer := time.NewTimer(watchDebounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(ev.Name)
				if name != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				timer.Reset(watchDebounce)

			case <-timer.C:
				if err := st.Load(ctx, s, target); err != nil {
					if ctx.Err() != nil {
						return
					}
					report(err)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("ファイル監視エラー: %w", err))
			}
		}
	}()

	return errs, nil
}
