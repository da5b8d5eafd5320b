package sync

import "sync"

// inflightRegistry は実行中の同期をユーザー単位で記録するレジストリ。
// 同一ユーザーの同期を同時に1つまでに制限し、
// インターリーブした重複プッシュを防ぐ。
type inflightRegistry struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{
		running: make(map[string]struct{}),
	}
}

// acquire は指定キーの同期開始を試みる。
// 既に実行中の場合はfalseを返す。
func (r *inflightRegistry) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[key]; ok {
		return false
	}
	r.running[key] = struct{}{}
	return true
}

// release は指定キーの同期終了を記録する。
func (r *inflightRegistry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, key)
}
