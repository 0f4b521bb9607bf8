package dca

import "sync"

// AssetLocks serializes cycle mutations per asset id.
type AssetLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewAssetLocks() *AssetLocks {
	return &AssetLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock blocks until the asset is free and returns the matching unlock func.
func (l *AssetLocks) Lock(assetID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[assetID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[assetID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
