package batch

import "sync"

// resetShared forgets the process-wide manager.
func resetShared() {
	sharedOnce = sync.Once{}
	shared = nil
}
