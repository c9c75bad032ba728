package sys

import "sync"

// preallocCache remembers, per device id, whether preallocation succeeded
// last time so repeated segment creation on the same filesystem doesn't pay
// for a failing fallocate/fcntl probe on every allocation.
var preallocCache sync.Map // uint64 device id -> bool

func preallocCacheLoad(dev uint64) (allowed, found bool) {
	v, ok := preallocCache.Load(dev)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocCache.Store(dev, allowed)
}
