//go:build linux

package eigenipc

import (
	"sync"
	"testing"
	"time"
)

func TestCondVarCreateOpen(t *testing.T) {
	ns := testNamespace(t)

	srvr, err := NewConditionVariable(true, "cvco", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer srvr.Close()

	clnt, err := NewConditionVariable(false, "cvco", ns, false, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer clnt.Close()
}

func TestCondVarOpenMissing(t *testing.T) {
	ns := testNamespace(t)

	if _, err := NewConditionVariable(false, "cvmissing", ns, false, 0); err == nil {
		t.Fatal("opening a non-existent condition variable succeeded")
	}
}

func TestCondVarNotifyOne(t *testing.T) {
	ns := testNamespace(t)

	srvr, err := NewConditionVariable(true, "cvone", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer srvr.Close()

	clnt, err := NewConditionVariable(false, "cvone", ns, false, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer clnt.Close()

	ready := make(chan struct{})
	woken := make(chan struct{})
	go func() {
		clnt.Lock()
		close(ready)
		clnt.Wait()
		clnt.Unlock()
		close(woken)
	}()

	<-ready
	// Wait snapshots the sequence and then releases the mutex; taking it
	// makes sure the snapshot predates the notify.
	srvr.Lock()
	srvr.Unlock()
	srvr.NotifyOne()

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by NotifyOne")
	}
}

func TestCondVarNotifyAll(t *testing.T) {
	ns := testNamespace(t)

	srvr, err := NewConditionVariable(true, "cvall", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer srvr.Close()

	const waiters = 5
	var wg sync.WaitGroup
	started := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srvr.Lock()
			started <- struct{}{}
			srvr.Wait()
			srvr.Unlock()
		}()
	}

	for i := 0; i < waiters; i++ {
		<-started
	}
	srvr.Lock()
	srvr.Unlock()
	srvr.NotifyAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every waiter was woken by NotifyAll")
	}
}

func TestCondVarTimedWaitTimeout(t *testing.T) {
	ns := testNamespace(t)

	cv, err := NewConditionVariable(true, "cvtimeout", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer cv.Close()

	cv.Lock()
	start := time.Now()
	woken := cv.TimedWait(30)
	elapsed := time.Since(start)
	cv.Unlock()

	if woken {
		t.Fatal("TimedWait reported a wake with no notifier")
	}
	if elapsed < 30*time.Millisecond {
		t.Fatalf("TimedWait returned after %v, before the timeout", elapsed)
	}
}

func TestCondVarMutualExclusion(t *testing.T) {
	ns := testNamespace(t)

	cv, err := NewConditionVariable(true, "cvmutex", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer cv.Close()

	const workers = 8
	const iterations = 500

	var counter int
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				cv.Lock()
				counter++
				cv.Unlock()
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Fatalf("counter = %d, want %d", counter, workers*iterations)
	}
}

func TestCondVarCloseIdempotent(t *testing.T) {
	ns := testNamespace(t)

	cv, err := NewConditionVariable(true, "cvclose", ns, false, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cv.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := cv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
