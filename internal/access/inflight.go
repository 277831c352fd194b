package access

import "sync"

// Inflight tracks which users have an edit running.
type Inflight struct {
	mu     sync.Mutex
	active map[string]string
}

// NewInflight creates an empty tracker.
func NewInflight() *Inflight {
	return &Inflight{active: make(map[string]string)}
}

// Acquire marks userID as busy with taskID. It returns false, and the task
// already running, when the user has one in flight. release is idempotent and
// only clears the slot if it still belongs to taskID.
func (f *Inflight) Acquire(userID, taskID string) (release func(), running string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cur, busy := f.active[userID]; busy {
		return func() {}, cur, false
	}
	f.active[userID] = taskID

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.active[userID] == taskID {
				delete(f.active, userID)
			}
		})
	}, "", true
}

// Running reports the task userID has in flight, if any.
func (f *Inflight) Running(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[userID]
	return id, ok
}
