package executor

import (
	"hash/fnv"
	"sync"
)

// lockSet is a fixed array of mutexes striped by a hashed key, so
// operations on the same (binding, venue-order-id) pair always
// serialize, while operations on different pairs block each other only
// when their keys hash to the same stripe. Generalizes a per-order mutex idiom from one mutex per
// order to a bounded stripe so the set doesn't grow unboundedly with
// order count.
type lockSet struct {
	stripes []sync.Mutex
}

func newLockSet(n int) *lockSet {
	if n <= 0 {
		n = 64
	}
	return &lockSet{stripes: make([]sync.Mutex, n)}
}

func (l *lockSet) stripeFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

func (l *lockSet) Lock(key string)   { l.stripeFor(key).Lock() }
func (l *lockSet) Unlock(key string) { l.stripeFor(key).Unlock() }
