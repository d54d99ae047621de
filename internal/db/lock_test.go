//go:build unix

package db

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteLocker_AcquireRelease(t *testing.T) {
	dir := t.TempDir()

	locker := newWriteLocker(dir)

	if err := locker.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Lock file should exist with holder info
	lockPath := filepath.Join(dir, lockFileName)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file should contain holder info")
	}

	if err := locker.release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestWriteLocker_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()

	const numGoroutines = 5
	const numIterations = 10

	var counter int64
	var wg sync.WaitGroup

	// Each goroutine increments the counter only while holding the lock
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numIterations; j++ {
				locker := newWriteLocker(dir)
				if err := locker.acquire(5 * time.Second); err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				atomic.AddInt64(&counter, 1)
				locker.release()
			}
		}()
	}

	wg.Wait()

	expected := int64(numGoroutines * numIterations)
	if counter != expected {
		t.Errorf("expected %d increments, got %d", expected, counter)
	}
}

func TestWriteLocker_Timeout(t *testing.T) {
	dir := t.TempDir()

	first := newWriteLocker(dir)
	if err := first.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer first.release()

	second := newWriteLocker(dir)
	err := second.acquire(100 * time.Millisecond)
	if err == nil {
		second.release()
		t.Fatal("second acquire should have timed out")
	}

	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error should mention timeout, got: %v", err)
	}
	if !strings.Contains(err.Error(), "pid:") {
		t.Errorf("error should include holder info, got: %v", err)
	}
}

func TestWriteLocker_ReleaseUnblocksWaiter(t *testing.T) {
	dir := t.TempDir()

	first := newWriteLocker(dir)
	if err := first.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		second := newWriteLocker(dir)
		err := second.acquire(2 * time.Second)
		if err == nil {
			second.release()
		}
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	first.release()

	if err := <-done; err != nil {
		t.Errorf("waiter should acquire after release: %v", err)
	}
}

func TestWriteLocker_HolderInfo(t *testing.T) {
	dir := t.TempDir()

	locker := newWriteLocker(dir)
	if err := locker.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer locker.release()

	holder := locker.readHolder()
	if !strings.Contains(holder, "pid:") {
		t.Errorf("holder info should include pid, got: %s", holder)
	}
	if !strings.Contains(holder, "since") {
		t.Errorf("holder info should include timestamp, got: %s", holder)
	}
}
