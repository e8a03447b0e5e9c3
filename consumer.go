package eigenipc

import (
	"context"
	"fmt"
	"time"

	"github.com/AndrePatri/EigenIPC/journal"
)

// ConsumerOptions carries the optional construction parameters of a
// consumer.
type ConsumerOptions struct {
	Verbose bool
	VLevel  journal.VLevel
}

// Consumer is the acknowledging side of the trigger/ack barrier. Each
// consumer tracks the last trigger count it observed; a trigger-counter
// advance outside {0, 1} means an event was missed and is fatal.
type Consumer struct {
	basename  string
	namespace string

	verbose bool
	vlevel  journal.VLevel

	jr *journal.Journal

	triggerClnt *Client[int32]
	ackClnt     *Client[int32]

	triggerCond *ConditionVariable
	ackCond     *ConditionVariable

	counter *Tensor[int32]

	internalTriggerCounter int32

	running bool
	closed  bool
}

// NewConsumer prepares the two counter clients matching a producer with
// the same basename and namespace. Nothing is opened until Run.
func NewConsumer(basename, namespace string, opts ConsumerOptions) *Consumer {
	clntOpts := ClientOptions{
		Verbose: opts.Verbose,
		VLevel:  opts.VLevel,
		Safe:    false,
	}
	return &Consumer{
		basename:    basename,
		namespace:   namespace,
		verbose:     opts.Verbose,
		vlevel:      opts.VLevel,
		jr:          journal.New("eigenipc.Consumer"),
		triggerClnt: NewClient[int32](basename+triggerBasename, namespace, MemLayoutDefault, clntOpts),
		ackClnt:     NewClient[int32](basename+ackBasename, namespace, MemLayoutDefault, clntOpts),
		counter:     NewTensor[int32](1, 1, MemLayoutDefault),
	}
}

// Run attaches both counter clients and then opens the condition
// variables. Attachment succeeding guarantees the producer created the
// condition variables first. Idempotent.
func (c *Consumer) Run(ctx context.Context) error {
	if c.running {
		return nil
	}

	if err := c.triggerClnt.Attach(ctx); err != nil {
		return err
	}
	if err := c.ackClnt.Attach(ctx); err != nil {
		return err
	}

	var err error
	if c.triggerCond, err = NewConditionVariable(false, c.basename+triggerCondName, c.namespace, c.verbose, c.vlevel); err != nil {
		return err
	}
	if c.ackCond, err = NewConditionVariable(false, c.basename+ackCondName, c.namespace, c.verbose, c.vlevel); err != nil {
		c.triggerCond.Close()
		return err
	}

	c.internalTriggerCounter = 0
	c.running = true
	c.closed = false

	if c.verbose && c.vlevel > journal.V1 {
		c.jr.Logf("Run", journal.Stat, "consumer %s transitioned to running state", c.basename)
	}
	return nil
}

func (c *Consumer) checkRunning(caller string) error {
	if !c.running {
		if c.verbose {
			c.jr.Log(caller, "not running; did you call the Run method?", journal.Excep)
		}
		return fmt.Errorf("consumer %s: %w", c.basename, ErrNotRunning)
	}
	return nil
}

// checkTriggerReceived reads the shared trigger counter and classifies the
// advance since the last observation: 0 means no new trigger, 1 means one
// trigger to consume, anything else is fatal.
func (c *Consumer) checkTriggerReceived() (bool, error) {
	if !c.triggerClnt.Read(c.counter, 0, 0) {
		return false, fmt.Errorf("consumer %s: could not read trigger counter", c.basename)
	}

	delta := c.counter.At(0, 0) - c.internalTriggerCounter
	if delta < 0 || delta > 1 {
		err := fmt.Errorf("consumer %s: %w: got %d", c.basename, ErrTriggerDeltaInvalid, delta)
		if c.verbose {
			c.jr.Log("Wait", err.Error(), journal.Excep)
		}
		return false, err
	}

	if delta == 1 {
		c.internalTriggerCounter = c.counter.At(0, 0)
		return true, nil
	}
	return false, nil
}

// Wait blocks until the producer triggers, or msTimeout milliseconds
// elapse (msTimeout <= 0 waits forever). Returns true when a trigger was
// consumed, false on timeout, and an error when the counter delta is
// invalid.
func (c *Consumer) Wait(msTimeout int) (bool, error) {
	if err := c.checkRunning("Wait"); err != nil {
		return false, err
	}

	var deadline time.Time
	if msTimeout > 0 {
		deadline = time.Now().Add(time.Duration(msTimeout) * time.Millisecond)
	}

	c.triggerCond.Lock()
	defer c.triggerCond.Unlock()

	for {
		received, err := c.checkTriggerReceived()
		if err != nil {
			return false, err
		}
		if received {
			return true, nil
		}

		if msTimeout <= 0 {
			c.triggerCond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if !c.triggerCond.TimedWait(int(remaining.Milliseconds()) + 1) {
			received, err := c.checkTriggerReceived()
			return received, err
		}
	}
}

// Ack increments the shared ack counter under the ack condition's mutex
// and wakes the producer. Reports whether the counter update succeeded.
func (c *Consumer) Ack() (bool, error) {
	if err := c.checkRunning("Ack"); err != nil {
		return false, err
	}

	c.ackCond.Lock()
	ok := c.ackClnt.Read(c.counter, 0, 0)
	if ok {
		c.counter.Set(0, 0, c.counter.At(0, 0)+1)
		ok = c.ackClnt.Write(c.counter, 0, 0)
	}
	c.ackCond.Unlock()

	if !ok {
		if c.verbose {
			c.jr.Log("Ack", "could not update acknowledge counter", journal.Excep)
		}
		return false, nil
	}

	c.ackCond.NotifyOne()
	return true, nil
}

// WaitAndAck waits for a trigger, runs preAck, then acknowledges. Returns
// true only if all three steps succeed.
func (c *Consumer) WaitAndAck(preAck func() bool, msTimeout int) (bool, error) {
	received, err := c.Wait(msTimeout)
	if err != nil || !received {
		return false, err
	}

	ok := preAck()

	acked, err := c.Ack()
	if err != nil {
		return false, err
	}
	return ok && acked, nil
}

// Close detaches both counter clients and closes the condition variables.
// Idempotent.
func (c *Consumer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.running = false

	firstErr := c.triggerClnt.Close()
	if err := c.ackClnt.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.triggerCond != nil {
		if err := c.triggerCond.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.ackCond != nil {
		if err := c.ackCond.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
