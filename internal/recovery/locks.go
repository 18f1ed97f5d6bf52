package recovery

import (
	"strings"
	"sync"
)

// Locks serializes work per account across the recovery and guard loops
type Locks struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocks() *Locks {
	return &Locks{held: make(map[string]bool)}
}

// TryLock takes the account's lock without waiting. The returned func
// releases it and is safe to call more than once.
func (l *Locks) TryLock(account string) (func(), bool) {
	key := strings.ToLower(account)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}
