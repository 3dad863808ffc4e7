package ffi

import (
	"sync"
	"testing"
)

func TestCallerKey(t *testing.T) {
	// WHAT: the error-state key is stable for one pinned caller and differs
	// between two callers running at the same time.
	// WHY: a shared key would leak one caller's error into another's.
	var (
		keys  [2]int
		ready sync.WaitGroup
		done  sync.WaitGroup
	)
	ready.Add(2)
	done.Add(2)
	for i := range keys {
		go pinned(func() {
			defer done.Done()
			first := tid()
			ready.Done()
			ready.Wait()
			if tid() != first {
				t.Errorf("caller %d: key changed while pinned", i)
			}
			keys[i] = first
		})
	}
	done.Wait()
	if keys[0] == 0 || keys[0] == keys[1] {
		t.Fatalf("keys = %v", keys)
	}
}
