package eigenipc

import (
	"fmt"
	"time"

	"github.com/AndrePatri/EigenIPC/journal"
)

// Wire names of the producer/consumer substrate, appended to the user
// basename.
const (
	triggerBasename = "Trigger"
	ackBasename     = "Ack"
	triggerCondName = "TriggerCond"
	ackCondName     = "AckCond"
)

// ProducerOptions carries the optional construction parameters of a
// producer.
type ProducerOptions struct {
	Verbose           bool
	VLevel            journal.VLevel
	ForceReconnection bool
}

// Producer is the triggering side of a one-producer/N-consumer barrier:
// two single-cell shared counters plus two named condition variables.
// Trigger publishes a monotonic event; WaitAckFrom collects exactly one
// acknowledgement per consumer.
type Producer struct {
	basename  string
	namespace string

	verbose bool
	vlevel  journal.VLevel

	jr *journal.Journal

	triggerSrvr *Server[int32]
	ackSrvr     *Server[int32]

	triggerCond *ConditionVariable
	ackCond     *ConditionVariable

	counter *Tensor[int32]

	// Ack-counter baseline captured before the latest trigger went out.
	// Without it, acks landing between Trigger and WaitAckFrom would be
	// lost from the delta.
	acksBefore    int32
	baselineValid bool

	running bool
	closed  bool
}

// NewProducer creates the two counter servers at (basename+"Trigger",
// namespace) and (basename+"Ack", namespace). The condition variables are
// created on Run.
func NewProducer(basename, namespace string, opts ProducerOptions) (*Producer, error) {
	p := &Producer{
		basename:  basename,
		namespace: namespace,
		verbose:   opts.Verbose,
		vlevel:    opts.VLevel,
		jr:        journal.New("eigenipc.Producer"),
		counter:   NewTensor[int32](1, 1, MemLayoutDefault),
	}

	srvrOpts := ServerOptions{
		Verbose:           opts.Verbose,
		VLevel:            opts.VLevel,
		ForceReconnection: opts.ForceReconnection,
		Safe:              true,
	}

	var err error
	if p.triggerSrvr, err = NewServer[int32](1, 1, basename+triggerBasename, namespace, MemLayoutDefault, srvrOpts); err != nil {
		return nil, err
	}
	if p.ackSrvr, err = NewServer[int32](1, 1, basename+ackBasename, namespace, MemLayoutDefault, srvrOpts); err != nil {
		p.triggerSrvr.Close()
		return nil, err
	}
	return p, nil
}

// Run creates the two condition variables, then starts both counter
// servers and zeroes both counters. The condition variables exist before
// either server releases its data semaphore, so a consumer whose attach
// succeeds can open them. Idempotent.
func (p *Producer) Run() error {
	if p.running {
		return nil
	}

	var err error
	if p.triggerCond, err = NewConditionVariable(true, p.basename+triggerCondName, p.namespace, p.verbose, p.vlevel); err != nil {
		return err
	}
	if p.ackCond, err = NewConditionVariable(true, p.basename+ackCondName, p.namespace, p.verbose, p.vlevel); err != nil {
		p.triggerCond.Close()
		return err
	}

	if err := p.triggerSrvr.Run(); err != nil {
		return err
	}
	if err := p.ackSrvr.Run(); err != nil {
		return err
	}

	p.counter.Set(0, 0, 0)
	if !p.triggerSrvr.Write(p.counter, 0, 0) || !p.ackSrvr.Write(p.counter, 0, 0) {
		return fmt.Errorf("producer %s: could not initialize counters", p.basename)
	}

	p.running = true
	p.closed = false

	if p.verbose && p.vlevel > journal.V1 {
		p.jr.Logf("Run", journal.Stat, "producer %s transitioned to running state", p.basename)
	}
	return nil
}

func (p *Producer) checkRunning(caller string) error {
	if !p.running {
		if p.verbose {
			p.jr.Log(caller, "not running; did you call the Run method?", journal.Excep)
		}
		return fmt.Errorf("producer %s: %w", p.basename, ErrNotRunning)
	}
	return nil
}

// Trigger increments the shared trigger counter under the trigger
// condition's mutex and wakes every waiting consumer. The current ack
// count is recorded first, so a later WaitAckFrom counts only the acks
// this trigger provoked.
func (p *Producer) Trigger() error {
	if err := p.checkRunning("Trigger"); err != nil {
		return err
	}

	p.ackCond.Lock()
	if !p.ackSrvr.Read(p.counter, 0, 0) {
		p.ackCond.Unlock()
		return fmt.Errorf("producer %s: could not read ack counter", p.basename)
	}
	p.acksBefore = p.counter.At(0, 0)
	p.baselineValid = true
	p.ackCond.Unlock()

	p.triggerCond.Lock()
	ok := p.triggerSrvr.Read(p.counter, 0, 0)
	if ok {
		p.counter.Set(0, 0, p.counter.At(0, 0)+1)
		ok = p.triggerSrvr.Write(p.counter, 0, 0)
	}
	p.triggerCond.Unlock()

	if !ok {
		return fmt.Errorf("producer %s: could not update trigger counter", p.basename)
	}

	p.triggerCond.NotifyAll()
	return nil
}

// WaitAckFrom blocks until the ack counter has advanced by exactly
// nConsumers since the baseline recorded by the latest Trigger, or msTimeout
// milliseconds elapse (msTimeout <= 0 waits forever). When no Trigger was
// issued since the previous WaitAckFrom, the baseline is the ack count read
// when the call begins. Returns true when the target was reached.
func (p *Producer) WaitAckFrom(nConsumers int, msTimeout int) (bool, error) {
	if err := p.checkRunning("WaitAckFrom"); err != nil {
		return false, err
	}

	var deadline time.Time
	if msTimeout > 0 {
		deadline = time.Now().Add(time.Duration(msTimeout) * time.Millisecond)
	}

	p.ackCond.Lock()
	defer p.ackCond.Unlock()

	if !p.baselineValid {
		if !p.ackSrvr.Read(p.counter, 0, 0) {
			return false, fmt.Errorf("producer %s: could not read ack counter", p.basename)
		}
		p.acksBefore = p.counter.At(0, 0)
	}
	p.baselineValid = false

	for {
		if !p.ackSrvr.Read(p.counter, 0, 0) {
			return false, fmt.Errorf("producer %s: could not read ack counter", p.basename)
		}
		if int(p.counter.At(0, 0)-p.acksBefore) == nConsumers {
			return true, nil
		}

		if msTimeout <= 0 {
			p.ackCond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if !p.ackCond.TimedWait(int(remaining.Milliseconds()) + 1) {
			// Timer elapsed; settle with one final read.
			if !p.ackSrvr.Read(p.counter, 0, 0) {
				return false, fmt.Errorf("producer %s: could not read ack counter", p.basename)
			}
			return int(p.counter.At(0, 0)-p.acksBefore) == nConsumers, nil
		}
	}
}

// Close shuts down both counter servers and both condition variables.
// Idempotent.
func (p *Producer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.running = false

	firstErr := p.triggerSrvr.Close()
	if err := p.ackSrvr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if p.triggerCond != nil {
		if err := p.triggerCond.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.ackCond != nil {
		if err := p.ackCond.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
