package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForCondition(t *testing.T) {
	var counter int32
	go func() {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&counter, 1)
	}()

	result := WaitForCondition(t, time.Second, func() bool {
		return atomic.LoadInt32(&counter) == 1
	})

	if !result {
		t.Error("Expected condition to become true")
	}
}

func TestWaitForConditionTimeout(t *testing.T) {
	start := time.Now()
	result := WaitForCondition(t, 50*time.Millisecond, func() bool {
		return false
	})

	if result {
		t.Error("Expected condition to timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitForCondition overran its timeout: %v", elapsed)
	}
}
