package eigenipc

import (
	"github.com/AndrePatri/EigenIPC/internal/memutils"
)

// Scalar constrains the element types a shared tensor can carry.
type Scalar = memutils.Scalar

// Layout is the in-memory element order; the codes persisted in shared
// memory are 0 for column-major and 1 for row-major.
type Layout = memutils.Layout

const (
	ColMajor = memutils.ColMajor
	RowMajor = memutils.RowMajor
)

// MemLayoutDefault is the layout used throughout the library when the
// caller expresses no preference.
const MemLayoutDefault = RowMajor

// View is a non-owning strided overlay over a tensor block.
type View[T Scalar] = memutils.View[T]

// DType tags the element type of a server or client at the shared-memory
// boundary.
type DType int

const (
	Bool DType = iota
	Int
	Float
	Double
)

func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	default:
		return "unknown"
	}
}

// DTypeOf maps a Scalar instantiation to its DType tag.
func DTypeOf[T Scalar]() DType {
	var z T
	switch any(z).(type) {
	case bool:
		return Bool
	case int32:
		return Int
	case float32:
		return Float
	default:
		return Double
	}
}

// Tensor is an owned dense rows×cols matrix with a fixed layout. It backs
// reads and writes against shared views and is never itself shared.
type Tensor[T Scalar] struct {
	data   []T
	rows   int
	cols   int
	layout Layout
}

// NewTensor allocates a zeroed rows×cols tensor.
func NewTensor[T Scalar](rows, cols int, layout Layout) *Tensor[T] {
	return &Tensor[T]{
		data:   make([]T, rows*cols),
		rows:   rows,
		cols:   cols,
		layout: layout,
	}
}

func (t *Tensor[T]) Rows() int      { return t.rows }
func (t *Tensor[T]) Cols() int      { return t.cols }
func (t *Tensor[T]) Layout() Layout { return t.layout }

func (t *Tensor[T]) At(row, col int) T {
	return t.View().At(row, col)
}

func (t *Tensor[T]) Set(row, col int, val T) {
	t.View().Set(row, col, val)
}

// View overlays the whole tensor.
func (t *Tensor[T]) View() View[T] {
	return memutils.ViewOver(t.data, t.rows, t.cols, t.layout)
}

// Block overlays the rows×cols block anchored at (row, col).
func (t *Tensor[T]) Block(row, col, rows, cols int) View[T] {
	return t.View().Block(row, col, rows, cols)
}

// Zero resets every element.
func (t *Tensor[T]) Zero() {
	var z T
	for i := range t.data {
		t.data[i] = z
	}
}
