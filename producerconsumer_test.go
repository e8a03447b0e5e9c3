//go:build linux

package eigenipc

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func startProducer(t *testing.T, basename, ns string) *Producer {
	t.Helper()
	prod, err := NewProducer(basename, ns, ProducerOptions{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	t.Cleanup(func() { prod.Close() })
	if err := prod.Run(); err != nil {
		t.Fatalf("producer Run: %v", err)
	}
	return prod
}

func startConsumer(t *testing.T, basename, ns string) *Consumer {
	t.Helper()
	cons := NewConsumer(basename, ns, ConsumerOptions{})
	if err := cons.Run(attachCtx(t)); err != nil {
		t.Fatalf("consumer Run: %v", err)
	}
	t.Cleanup(func() { cons.Close() })
	return cons
}

// TestTriggerAckThreeConsumers is the full barrier: one trigger, three
// consumers wait-and-ack, the producer collects all three acks within a
// second.
func TestTriggerAckThreeConsumers(t *testing.T) {
	ns := testNamespace(t)

	prod := startProducer(t, "barrier", ns)

	const nConsumers = 3
	consumers := make([]*Consumer, nConsumers)
	for i := range consumers {
		consumers[i] = startConsumer(t, "barrier", ns)
	}

	var wg sync.WaitGroup
	for _, cons := range consumers {
		cons := cons
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cons.WaitAndAck(func() bool { return true }, 5000)
			if err != nil {
				t.Errorf("WaitAndAck: %v", err)
			} else if !ok {
				t.Error("WaitAndAck timed out")
			}
		}()
	}

	if err := prod.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	ok, err := prod.WaitAckFrom(nConsumers, 1000)
	if err != nil {
		t.Fatalf("WaitAckFrom: %v", err)
	}
	if !ok {
		t.Fatal("WaitAckFrom timed out")
	}
	wg.Wait()

	// The shared ack counter must read exactly nConsumers.
	cell := NewTensor[int32](1, 1, MemLayoutDefault)
	if !prod.ackSrvr.Read(cell, 0, 0) {
		t.Fatal("ack counter read refused")
	}
	if got := cell.At(0, 0); got != nConsumers {
		t.Fatalf("ack counter = %d, want %d", got, nConsumers)
	}
}

// TestRepeatedBarrier drives P triggers through N consumers; the ack
// counter must reach P*N and no consumer may ever observe an invalid
// delta.
func TestRepeatedBarrier(t *testing.T) {
	ns := testNamespace(t)

	prod := startProducer(t, "rounds", ns)

	const nConsumers = 2
	const nTriggers = 25

	consumers := make([]*Consumer, nConsumers)
	for i := range consumers {
		consumers[i] = startConsumer(t, "rounds", ns)
	}

	var wg sync.WaitGroup
	for _, cons := range consumers {
		cons := cons
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < nTriggers; i++ {
				ok, err := cons.WaitAndAck(func() bool { return true }, 5000)
				if err != nil {
					t.Errorf("trigger %d: %v", i, err)
					return
				}
				if !ok {
					t.Errorf("trigger %d: timed out", i)
					return
				}
			}
		}()
	}

	for i := 0; i < nTriggers; i++ {
		if err := prod.Trigger(); err != nil {
			t.Fatalf("Trigger %d: %v", i, err)
		}
		ok, err := prod.WaitAckFrom(nConsumers, 5000)
		if err != nil {
			t.Fatalf("WaitAckFrom %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("WaitAckFrom %d timed out", i)
		}
	}
	wg.Wait()

	cell := NewTensor[int32](1, 1, MemLayoutDefault)
	if !prod.ackSrvr.Read(cell, 0, 0) {
		t.Fatal("ack counter read refused")
	}
	if got := cell.At(0, 0); got != nConsumers*nTriggers {
		t.Fatalf("ack counter = %d, want %d", got, nConsumers*nTriggers)
	}
}

func TestConsumerWaitTimeout(t *testing.T) {
	ns := testNamespace(t)

	startProducer(t, "quiet", ns)
	cons := startConsumer(t, "quiet", ns)

	start := time.Now()
	ok, err := cons.Wait(50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ok {
		t.Fatal("Wait reported a trigger that never happened")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("Wait returned before the timeout")
	}
}

func TestProducerAckTimeout(t *testing.T) {
	ns := testNamespace(t)

	prod := startProducer(t, "noacks", ns)
	startConsumer(t, "noacks", ns) // attached but never acks

	if err := prod.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	ok, err := prod.WaitAckFrom(1, 50)
	if err != nil {
		t.Fatalf("WaitAckFrom: %v", err)
	}
	if ok {
		t.Fatal("WaitAckFrom reported acks that never came")
	}
}

// TestTriggerDeltaInvalid: two triggers before the consumer looks means a
// missed event, which is fatal at the consumer.
func TestTriggerDeltaInvalid(t *testing.T) {
	ns := testNamespace(t)

	prod := startProducer(t, "missed", ns)
	cons := startConsumer(t, "missed", ns)

	if err := prod.Trigger(); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	if err := prod.Trigger(); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}

	if _, err := cons.Wait(100); !errors.Is(err, ErrTriggerDeltaInvalid) {
		t.Fatalf("Wait: got %v, want ErrTriggerDeltaInvalid", err)
	}
}

func TestNotRunningErrors(t *testing.T) {
	ns := testNamespace(t)

	prod, err := NewProducer("inert", ns, ProducerOptions{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer prod.Close()

	if err := prod.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Trigger before Run: got %v, want ErrNotRunning", err)
	}
	if _, err := prod.WaitAckFrom(1, 10); !errors.Is(err, ErrNotRunning) {
		t.Errorf("WaitAckFrom before Run: got %v, want ErrNotRunning", err)
	}

	cons := NewConsumer("inert", ns, ConsumerOptions{})
	if _, err := cons.Wait(10); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Wait before Run: got %v, want ErrNotRunning", err)
	}
	if _, err := cons.Ack(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Ack before Run: got %v, want ErrNotRunning", err)
	}
}

// TestWaitAndAckCallbackFailure: a false pre-ack callback still acks but
// the composite reports failure.
func TestWaitAndAckCallbackFailure(t *testing.T) {
	ns := testNamespace(t)

	prod := startProducer(t, "cbfail", ns)
	cons := startConsumer(t, "cbfail", ns)

	if err := prod.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	ok, err := cons.WaitAndAck(func() bool { return false }, 1000)
	if err != nil {
		t.Fatalf("WaitAndAck: %v", err)
	}
	if ok {
		t.Fatal("WaitAndAck succeeded despite a failing callback")
	}

	// The ack itself still went through.
	if got, err := prod.WaitAckFrom(1, 1000); err != nil || !got {
		t.Fatalf("ack was not delivered: %v/%v", got, err)
	}
}
