package services

import (
	"context"
	"sync"
)

// areaLocks serialises index work per area. An entry lives only while some
// caller holds or waits for it.
type areaLocks struct {
	mu    sync.Mutex
	locks map[int64]*areaLock
}

type areaLock struct {
	ch   chan struct{}
	refs int
}

// lock blocks until the area is free or ctx is done. The returned func
// releases the lock.
func (l *areaLocks) lock(ctx context.Context, areaID int64) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*areaLock)
	}
	al := l.locks[areaID]
	if al == nil {
		al = &areaLock{ch: make(chan struct{}, 1)}
		l.locks[areaID] = al
	}
	al.refs++
	l.mu.Unlock()

	select {
	case al.ch <- struct{}{}:
		return func() {
			<-al.ch
			l.release(areaID, al)
		}, nil
	case <-ctx.Done():
		l.release(areaID, al)
		return nil, ctx.Err()
	}
}

func (l *areaLocks) release(areaID int64, al *areaLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	al.refs--
	if al.refs == 0 {
		delete(l.locks, areaID)
	}
}
