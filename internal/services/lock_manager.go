// internal/services/lock_manager.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// LockManager hands out per-plan RW mutexes. Season plans and content
// calendars for one brand-month share a lock so queue writes, user
// edits and re-fetches serialize against each other in-process.
type LockManager struct {
	planLocks  map[string]*LockInfo
	globalLock sync.RWMutex
}

// LockInfo wraps a lock with bookkeeping for cleanup.
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
}

// NewLockManager creates a lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		planLocks: make(map[string]*LockInfo),
	}
}

func planKey(brandID, month string) string {
	return fmt.Sprintf("%s/%s", brandID, month)
}

// GetPlanLock returns the lock for a brand-month, creating it if needed.
func (lm *LockManager) GetPlanLock(brandID, month string) *sync.RWMutex {
	key := planKey(brandID, month)

	lm.globalLock.RLock()
	if lockInfo, exists := lm.planLocks[key]; exists {
		lm.globalLock.RUnlock()
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// Double-check under the write lock.
	if lockInfo, exists := lm.planLocks[key]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lock := &sync.RWMutex{}
	lm.planLocks[key] = &LockInfo{
		Mutex:    lock,
		LastUsed: time.Now(),
	}
	return lock
}

// ExecuteWithPlanLock runs fn while holding the plan's write lock.
func (lm *LockManager) ExecuteWithPlanLock(brandID, month string, fn func() error) error {
	lock := lm.GetPlanLock(brandID, month)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithPlanReadLock runs fn while holding the plan's read lock.
func (lm *LockManager) ExecuteWithPlanReadLock(brandID, month string, fn func() error) error {
	lock := lm.GetPlanLock(brandID, month)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// CleanupUnusedLocks drops long-unused locks when the table grows
// large. Invoked by the app's scheduled maintenance job.
func (lm *LockManager) CleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 200
	const lockTimeout = 30 * time.Minute

	if len(lm.planLocks) <= maxLocks {
		return
	}

	now := time.Now()
	for key, lockInfo := range lm.planLocks {
		if now.Sub(lockInfo.LastUsed) > lockTimeout {
			delete(lm.planLocks, key)
		}
	}
}
