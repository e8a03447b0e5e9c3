package eigenipc

import (
	"fmt"
	"time"

	"github.com/AndrePatri/EigenIPC/internal/memutils"
	"github.com/AndrePatri/EigenIPC/journal"
)

// semAcqTimeout bounds semaphore acquisition at construction and at Run.
// If the data semaphore cannot be taken within this window, the previous
// owner is presumed dead.
const semAcqTimeout = 100 * time.Microsecond

// ServerOptions carries the optional construction parameters shared by the
// verbose diagnostics and concurrency discipline of a server.
type ServerOptions struct {
	Verbose           bool
	VLevel            journal.VLevel
	ForceReconnection bool
	Safe              bool
}

// Server owns a shared rows×cols tensor of element type T plus its
// metadata sidecar, and arbitrates access through two named semaphores.
//
// Construction allocates every named resource but leaves the data
// semaphore held, so no client can enter the data critical section until
// Run is called. That deferred release is a contract: a server that never
// runs must still Close to unblock the name.
type Server[T Scalar] struct {
	nRows int
	nCols int

	basename  string
	namespace string
	cfg       memutils.MemConfig

	verbose bool
	vlevel  journal.VLevel
	safe    bool
	force   bool
	layout  Layout

	jr *journal.Journal

	srvrSem *memutils.Semaphore
	dataSem *memutils.Semaphore

	dataSeg    *memutils.Segment
	nRowsSeg   *memutils.Segment
	nColsSeg   *memutils.Segment
	clientsSeg *memutils.Segment
	dtypeSeg   *memutils.Segment
	runningSeg *memutils.Segment
	layoutSeg  *memutils.Segment

	view        View[T]
	nRowsView   View[int32]
	nColsView   View[int32]
	clientsView View[int32]
	dtypeView   View[int32]
	runningView View[bool]
	layoutView  View[int32]

	// Heap tensor of the shared shape, zero-initialized at construction and
	// returned by TensorCopy. Read and ReadView always copy from the mapped
	// region and never consult it.
	tensorCopy *Tensor[T]

	running    bool
	terminated bool
}

// NewServer creates every named object of the (basename, namespace) pair:
// the data segment, the six metadata cells and the two semaphores. The
// data semaphore is left acquired until Run.
func NewServer[T Scalar](nRows, nCols int, basename, namespace string, layout Layout, opts ServerOptions) (*Server[T], error) {
	s := &Server[T]{
		nRows:     nRows,
		nCols:     nCols,
		basename:  basename,
		namespace: namespace,
		cfg:       memutils.NewMemConfig(basename, namespace),
		verbose:   opts.Verbose,
		vlevel:    opts.VLevel,
		safe:      opts.Safe,
		force:     opts.ForceReconnection,
		layout:    layout,
		jr:        journal.New("eigenipc.Server"),
	}

	if s.force && s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("NewServer", journal.Warn,
			"server at %s will be initialized with force reconnection; "+
				"running two servers concurrently on the same memory is destructive",
			s.cfg.DataPath())
	}
	if s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("NewServer", journal.Stat, "initializing server at %s", s.cfg.DataPath())
	}

	var err error
	if s.srvrSem, err = memutils.SemInit(s.cfg.ServerSemPath()); err != nil {
		return nil, err
	}
	if s.dataSem, err = memutils.SemInit(s.cfg.DataSemPath()); err != nil {
		s.srvrSem.Close(false)
		return nil, err
	}

	// From here until Run, the world is blocked out of the data section.
	if err = s.dataSem.AcquireTimed(semAcqTimeout, s.force); err != nil {
		s.closeSems(false)
		return nil, err
	}

	if memutils.CheckMem(s.cfg.DataPath()) && s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("NewServer", journal.Stat, "removed stale data segment at %s", s.cfg.DataPath())
	}

	if err = s.initDataMem(); err != nil {
		s.closeSems(true)
		return nil, err
	}
	if err = s.initMetaMem(); err != nil {
		s.closeAllMem()
		s.closeSems(true)
		return nil, err
	}

	s.tensorCopy = NewTensor[T](nRows, nCols, layout)

	if s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("NewServer", journal.Stat, "server at %s initialized, ready to run", s.cfg.DataPath())
	}

	return s, nil
}

func (s *Server[T]) initDataMem() error {
	size := s.nRows * s.nCols * memutils.ElemSize[T]()
	seg, err := memutils.CreateSegment(s.cfg.DataPath(), size)
	if err != nil {
		return err
	}
	s.dataSeg = seg
	s.view = memutils.ViewOf[T](seg.Mem, s.nRows, s.nCols, s.layout)
	return nil
}

// metaCell creates one single-cell metadata segment of elemSize bytes,
// removing a stale leftover first.
func metaCell(path string, elemSize int) (*memutils.Segment, error) {
	memutils.CheckMem(path)
	return memutils.CreateSegment(path, elemSize)
}

func (s *Server[T]) initMetaMem() error {
	var err error
	if s.nRowsSeg, err = metaCell(s.cfg.NRowsPath(), 4); err != nil {
		return err
	}
	if s.nColsSeg, err = metaCell(s.cfg.NColsPath(), 4); err != nil {
		return err
	}
	if s.clientsSeg, err = metaCell(s.cfg.ClientsPath(), 4); err != nil {
		return err
	}
	if s.dtypeSeg, err = metaCell(s.cfg.DTypePath(), 4); err != nil {
		return err
	}
	if s.runningSeg, err = metaCell(s.cfg.IsRunningPath(), 1); err != nil {
		return err
	}
	if s.layoutSeg, err = metaCell(s.cfg.MemLayoutPath(), 4); err != nil {
		return err
	}

	s.nRowsView = memutils.ViewOf[int32](s.nRowsSeg.Mem, 1, 1, s.layout)
	s.nColsView = memutils.ViewOf[int32](s.nColsSeg.Mem, 1, 1, s.layout)
	s.clientsView = memutils.ViewOf[int32](s.clientsSeg.Mem, 1, 1, s.layout)
	s.dtypeView = memutils.ViewOf[int32](s.dtypeSeg.Mem, 1, 1, s.layout)
	s.runningView = memutils.ViewOf[bool](s.runningSeg.Mem, 1, 1, s.layout)
	s.layoutView = memutils.ViewOf[int32](s.layoutSeg.Mem, 1, 1, s.layout)

	s.nRowsView.Set(0, 0, int32(s.nRows))
	s.nColsView.Set(0, 0, int32(s.nCols))
	s.clientsView.Set(0, 0, 0)
	s.dtypeView.Set(0, 0, int32(memutils.ElemSize[T]()))
	s.runningView.Set(0, 0, false)
	s.layoutView.Set(0, 0, int32(s.layout))
	return nil
}

// Run makes the server discoverable: the server-unique semaphore is
// acquired for the whole running lifetime (at most one running server per
// name), the data semaphore is released and the running flag is published.
// Idempotent.
func (s *Server[T]) Run() error {
	if s.running {
		return nil
	}

	// A timeout here means another server already owns the name.
	if err := s.srvrSem.AcquireTimed(semAcqTimeout, false); err != nil {
		return fmt.Errorf("server at %s could not transition to running: %w",
			s.cfg.DataPath(), err)
	}

	if err := s.dataSem.Release(); err != nil {
		return err
	}

	s.running = true
	s.runningView.Set(0, 0, true)

	if s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("Run", journal.Stat, "server at %s transitioned to running state", s.cfg.DataPath())
	}
	return nil
}

// Stop withdraws the server from service and releases the server-unique
// semaphore. Idempotent.
func (s *Server[T]) Stop() error {
	if !s.running {
		return nil
	}
	s.running = false
	s.runningView.Set(0, 0, false)
	return s.srvrSem.Release()
}

// Close stops the server if needed, then unmaps and unlinks every segment
// and both semaphores. Idempotent and safe to defer.
func (s *Server[T]) Close() error {
	if s.terminated {
		return nil
	}

	firstErr := s.Stop()

	if err := s.closeAllMem(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.closeSems(true); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.verbose && s.vlevel > journal.V1 {
		s.jr.Logf("Close", journal.Stat, "closed server at %s", s.cfg.DataPath())
	}

	s.terminated = true
	return firstErr
}

func (s *Server[T]) closeAllMem() error {
	var firstErr error
	for _, seg := range []*memutils.Segment{
		s.dataSeg, s.nRowsSeg, s.nColsSeg, s.clientsSeg,
		s.dtypeSeg, s.runningSeg, s.layoutSeg,
	} {
		if seg == nil {
			continue
		}
		if err := seg.Close(true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server[T]) closeSems(unlink bool) error {
	var firstErr error
	if s.srvrSem != nil {
		if err := s.srvrSem.Close(unlink); err != nil {
			firstErr = err
		}
	}
	if s.dataSem != nil {
		if err := s.dataSem.Close(unlink); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server[T]) checkIsRunning(caller string) {
	if !s.running && s.verbose {
		s.jr.Logf(caller, journal.Excep,
			"server %s is not running; did you remember to call Run?", s.cfg.DataPath())
	}
}

// Write copies all of data into the shared tensor at offset (row, col).
// Returns false when the server is not running, the block does not fit at
// the offset, or (in safe mode) the data semaphore could not be taken
// without blocking.
func (s *Server[T]) Write(data *Tensor[T], row, col int) bool {
	return s.WriteView(data.View(), row, col)
}

// WriteView is Write for a borrowed strided view.
func (s *Server[T]) WriteView(data View[T], row, col int) bool {
	if !s.running {
		s.checkIsRunning("Write")
		return false
	}

	if s.safe && !s.dataSem.TryAcquire() {
		return false
	}
	ok := memutils.Write(data, s.view, row, col)
	if s.safe {
		s.dataSem.Release()
	}
	return ok
}

// Read copies the out-shaped block at offset (row, col) of the shared
// tensor into out. Same refusal conditions as Write.
func (s *Server[T]) Read(out *Tensor[T], row, col int) bool {
	return s.ReadView(out.View(), row, col)
}

// ReadView is Read into a borrowed strided view.
func (s *Server[T]) ReadView(out View[T], row, col int) bool {
	if !s.running {
		s.checkIsRunning("Read")
		return false
	}

	if s.safe && !s.dataSem.TryAcquire() {
		return false
	}
	ok := memutils.Read(s.view, row, col, out)
	if s.safe {
		s.dataSem.Release()
	}
	return ok
}

// DataSemAcquire blocks until the data semaphore is held, letting the
// caller compose an external critical section. Every acquire must be paired
// with DataSemRelease.
func (s *Server[T]) DataSemAcquire() error { return s.dataSem.Acquire() }

// DataSemRelease releases the data semaphore taken with DataSemAcquire.
func (s *Server[T]) DataSemRelease() error { return s.dataSem.Release() }

// IsRunning reports whether Run has been called and Stop has not.
func (s *Server[T]) IsRunning() bool { return s.running }

// NClients reads the published client count under the data semaphore.
func (s *Server[T]) NClients() (int, error) {
	if err := s.dataSem.Acquire(); err != nil {
		return 0, err
	}
	n := int(s.clientsView.At(0, 0))
	err := s.dataSem.Release()
	return n, err
}

func (s *Server[T]) NRows() int         { return s.nRows }
func (s *Server[T]) NCols() int         { return s.nCols }
func (s *Server[T]) ScalarType() DType  { return DTypeOf[T]() }
func (s *Server[T]) MemLayout() Layout  { return s.layout }
func (s *Server[T]) Namespace() string  { return s.namespace }
func (s *Server[T]) Basename() string   { return s.basename }
func (s *Server[T]) TensorCopy() *Tensor[T] { return s.tensorCopy }
