package eigenipc

import (
	"context"
	"fmt"
	"time"

	"github.com/AndrePatri/EigenIPC/internal/memutils"
	"github.com/AndrePatri/EigenIPC/journal"
)

// ClientOptions carries the optional construction parameters of a client.
type ClientOptions struct {
	Verbose bool
	VLevel  journal.VLevel
	Safe    bool
}

// Client attaches to an existing server by (basename, namespace), discovers
// the published shape, element type and layout, and performs partial reads
// and writes with the same semaphore discipline as the server.
//
// Lifecycle: Detached → Attached → Detached → Closed. Read and Write are
// legal only while attached.
type Client[T Scalar] struct {
	basename  string
	namespace string
	cfg       memutils.MemConfig

	verbose bool
	vlevel  journal.VLevel
	safe    bool
	layout  Layout

	jr *journal.Journal

	dataSem *memutils.Semaphore

	dataSeg    *memutils.Segment
	nRowsSeg   *memutils.Segment
	nColsSeg   *memutils.Segment
	clientsSeg *memutils.Segment
	dtypeSeg   *memutils.Segment
	runningSeg *memutils.Segment
	layoutSeg  *memutils.Segment

	view        View[T]
	clientsView View[int32]
	runningView View[bool]

	nRows int
	nCols int

	attached   bool
	terminated bool
}

// NewClient prepares a detached client. No OS object is touched until
// Attach.
func NewClient[T Scalar](basename, namespace string, layout Layout, opts ClientOptions) *Client[T] {
	return &Client[T]{
		basename:  basename,
		namespace: namespace,
		cfg:       memutils.NewMemConfig(basename, namespace),
		verbose:   opts.Verbose,
		vlevel:    opts.VLevel,
		safe:      opts.Safe,
		layout:    layout,
		jr:        journal.New("eigenipc.Client"),
	}
}

// openWhenPresent polls for a named segment with backoff until it can be
// opened or ctx is done.
func openWhenPresent(ctx context.Context, path string) (*memutils.Segment, error) {
	backoff := time.Millisecond
	for {
		seg, err := memutils.OpenSegment(path)
		if err == nil {
			return seg, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s: %v", memutils.ErrMemOpenFail, path, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Attach opens the metadata sidecar (waiting for the server to publish
// it), validates element type and layout against this client's template
// parameters, maps the data segment using the published shape and
// registers itself in the client counter. Idempotent.
func (c *Client[T]) Attach(ctx context.Context) error {
	if c.attached {
		return nil
	}
	if c.terminated {
		return fmt.Errorf("%w: client at %s is closed", ErrNotRunning, c.cfg.DataPath())
	}

	if c.verbose && c.vlevel > journal.V1 {
		c.jr.Logf("Attach", journal.Stat, "attaching to server at %s", c.cfg.DataPath())
	}

	var err error
	if c.nRowsSeg, err = openWhenPresent(ctx, c.cfg.NRowsPath()); err != nil {
		return err
	}
	if c.nColsSeg, err = openWhenPresent(ctx, c.cfg.NColsPath()); err != nil {
		c.closeAllMem()
		return err
	}
	if c.clientsSeg, err = openWhenPresent(ctx, c.cfg.ClientsPath()); err != nil {
		c.closeAllMem()
		return err
	}
	if c.dtypeSeg, err = openWhenPresent(ctx, c.cfg.DTypePath()); err != nil {
		c.closeAllMem()
		return err
	}
	if c.runningSeg, err = openWhenPresent(ctx, c.cfg.IsRunningPath()); err != nil {
		c.closeAllMem()
		return err
	}
	if c.layoutSeg, err = openWhenPresent(ctx, c.cfg.MemLayoutPath()); err != nil {
		c.closeAllMem()
		return err
	}

	nRowsView := memutils.ViewOf[int32](c.nRowsSeg.Mem, 1, 1, c.layout)
	nColsView := memutils.ViewOf[int32](c.nColsSeg.Mem, 1, 1, c.layout)
	dtypeView := memutils.ViewOf[int32](c.dtypeSeg.Mem, 1, 1, c.layout)
	layoutView := memutils.ViewOf[int32](c.layoutSeg.Mem, 1, 1, c.layout)
	c.clientsView = memutils.ViewOf[int32](c.clientsSeg.Mem, 1, 1, c.layout)
	c.runningView = memutils.ViewOf[bool](c.runningSeg.Mem, 1, 1, c.layout)

	c.nRows = int(nRowsView.At(0, 0))
	c.nCols = int(nColsView.At(0, 0))

	if published := int(dtypeView.At(0, 0)); published != memutils.ElemSize[T]() {
		c.closeAllMem()
		err := fmt.Errorf("%w: server publishes element size %d, client expects %d",
			ErrDTypeMismatch, published, memutils.ElemSize[T]())
		if c.verbose {
			c.jr.Log("Attach", err.Error(), journal.Excep)
		}
		return err
	}
	if published := Layout(layoutView.At(0, 0)); published != c.layout {
		c.closeAllMem()
		err := fmt.Errorf("%w: server publishes %s, client expects %s",
			ErrLayoutMismatch, published, c.layout)
		if c.verbose {
			c.jr.Log("Attach", err.Error(), journal.Excep)
		}
		return err
	}

	if c.dataSeg, err = openWhenPresent(ctx, c.cfg.DataPath()); err != nil {
		c.closeAllMem()
		return err
	}
	if need := c.nRows * c.nCols * memutils.ElemSize[T](); len(c.dataSeg.Mem) < need {
		c.closeAllMem()
		return fmt.Errorf("%w: data segment holds %d bytes, shape %dx%d needs %d",
			ErrSizeMismatch, len(c.dataSeg.Mem), c.nRows, c.nCols, need)
	}
	c.view = memutils.ViewOf[T](c.dataSeg.Mem, c.nRows, c.nCols, c.layout)

	if c.dataSem, err = memutils.SemInit(c.cfg.DataSemPath()); err != nil {
		c.closeAllMem()
		return err
	}

	if err = c.bumpClients(1); err != nil {
		c.dataSem.Close(false)
		c.dataSem = nil
		c.closeAllMem()
		return err
	}

	c.attached = true

	if c.verbose && c.vlevel > journal.V1 {
		c.jr.Logf("Attach", journal.Stat, "attached to server at %s", c.cfg.DataPath())
	}
	return nil
}

func (c *Client[T]) bumpClients(delta int32) error {
	if err := c.dataSem.Acquire(); err != nil {
		return err
	}
	c.clientsView.Set(0, 0, c.clientsView.At(0, 0)+delta)
	return c.dataSem.Release()
}

// Detach deregisters the client from the published counter. Idempotent;
// the mappings stay valid until Close.
func (c *Client[T]) Detach() error {
	if !c.attached {
		return nil
	}
	if err := c.bumpClients(-1); err != nil {
		return err
	}
	c.attached = false
	return nil
}

// Close detaches if needed and unmaps everything. Clients never unlink:
// the names belong to the server. Idempotent.
func (c *Client[T]) Close() error {
	if c.terminated {
		return nil
	}

	firstErr := c.Detach()

	if err := c.closeAllMem(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.dataSem != nil {
		if err := c.dataSem.Close(false); err != nil && firstErr == nil {
			firstErr = err
		}
		c.dataSem = nil
	}

	if c.verbose && c.vlevel > journal.V1 {
		c.jr.Logf("Close", journal.Stat, "closed client at %s", c.cfg.DataPath())
	}

	c.terminated = true
	return firstErr
}

func (c *Client[T]) closeAllMem() error {
	var firstErr error
	for _, seg := range []*memutils.Segment{
		c.dataSeg, c.nRowsSeg, c.nColsSeg, c.clientsSeg,
		c.dtypeSeg, c.runningSeg, c.layoutSeg,
	} {
		if seg == nil {
			continue
		}
		if err := seg.Close(false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.dataSeg, c.nRowsSeg, c.nColsSeg, c.clientsSeg = nil, nil, nil, nil
	c.dtypeSeg, c.runningSeg, c.layoutSeg = nil, nil, nil
	return firstErr
}

// usable gates every data operation: the client must be attached and the
// server must publish a running state.
func (c *Client[T]) usable(caller string) bool {
	if !c.attached {
		if c.verbose {
			c.jr.Logf(caller, journal.Excep,
				"client at %s is not attached; did you call Attach?", c.cfg.DataPath())
		}
		return false
	}
	if !c.runningView.At(0, 0) {
		if c.verbose {
			c.jr.Logf(caller, journal.Excep,
				"server at %s is not running", c.cfg.DataPath())
		}
		return false
	}
	return true
}

// Write copies all of data into the shared tensor at offset (row, col).
// Same contract as Server.Write, with the additional precondition that the
// client is attached and the server running.
func (c *Client[T]) Write(data *Tensor[T], row, col int) bool {
	return c.WriteView(data.View(), row, col)
}

// WriteView is Write for a borrowed strided view.
func (c *Client[T]) WriteView(data View[T], row, col int) bool {
	if !c.usable("Write") {
		return false
	}

	if c.safe && !c.dataSem.TryAcquire() {
		return false
	}
	ok := memutils.Write(data, c.view, row, col)
	if c.safe {
		c.dataSem.Release()
	}
	return ok
}

// Read copies the out-shaped block at offset (row, col) into out.
func (c *Client[T]) Read(out *Tensor[T], row, col int) bool {
	return c.ReadView(out.View(), row, col)
}

// ReadView is Read into a borrowed strided view.
func (c *Client[T]) ReadView(out View[T], row, col int) bool {
	if !c.usable("Read") {
		return false
	}

	if c.safe && !c.dataSem.TryAcquire() {
		return false
	}
	ok := memutils.Read(c.view, row, col, out)
	if c.safe {
		c.dataSem.Release()
	}
	return ok
}

// DataSemAcquire and DataSemRelease expose the data semaphore for compound
// external critical sections.
func (c *Client[T]) DataSemAcquire() error { return c.dataSem.Acquire() }
func (c *Client[T]) DataSemRelease() error { return c.dataSem.Release() }

// IsAttached reports whether the client is in the attached state.
func (c *Client[T]) IsAttached() bool { return c.attached }

func (c *Client[T]) NRows() int        { return c.nRows }
func (c *Client[T]) NCols() int        { return c.nCols }
func (c *Client[T]) ScalarType() DType { return DTypeOf[T]() }
func (c *Client[T]) MemLayout() Layout { return c.layout }
func (c *Client[T]) Namespace() string { return c.namespace }
func (c *Client[T]) Basename() string  { return c.basename }
