package memutils

import (
	"unsafe"
)

// Scalar enumerates the element types a shared tensor can carry. The
// discriminator persisted in shared memory is the element's byte size.
type Scalar interface {
	bool | int32 | float32 | float64
}

// Layout is the in-memory element order of a tensor. The codes match the
// conventional library encoding: 0 column-major, 1 row-major.
type Layout int32

const (
	ColMajor Layout = 0
	RowMajor Layout = 1
)

func (l Layout) String() string {
	if l == RowMajor {
		return "row-major"
	}
	return "col-major"
}

// ElemSize returns the byte size of T, which doubles as the dtype
// discriminator published in the metadata sidecar.
func ElemSize[T Scalar]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

// View is a non-owning strided 2-D overlay over a mapped (or heap) region
// for a specific element type and layout. Strides are expressed in
// elements, not bytes.
type View[T Scalar] struct {
	data    []T
	rows    int
	cols    int
	rstride int
	cstride int
}

// ViewOf overlays a 2-D view with the given layout on mem, which must hold
// at least rows*cols*sizeof(T) bytes.
func ViewOf[T Scalar](mem []byte, rows, cols int, layout Layout) View[T] {
	n := rows * cols
	var data []T
	if n > 0 {
		data = unsafe.Slice((*T)(unsafe.Pointer(&mem[0])), n)
	}
	return viewOver(data, rows, cols, layout)
}

// ViewOver overlays a view on an element slice of length >= rows*cols.
func ViewOver[T Scalar](data []T, rows, cols int, layout Layout) View[T] {
	return viewOver(data, rows, cols, layout)
}

func viewOver[T Scalar](data []T, rows, cols int, layout Layout) View[T] {
	v := View[T]{data: data, rows: rows, cols: cols}
	if layout == RowMajor {
		v.rstride, v.cstride = cols, 1
	} else {
		v.rstride, v.cstride = 1, rows
	}
	return v
}

// Block narrows the view to the rows×cols block anchored at (row, col).
// The block must lie inside the view.
func (v View[T]) Block(row, col, rows, cols int) View[T] {
	return View[T]{
		data:    v.data[row*v.rstride+col*v.cstride:],
		rows:    rows,
		cols:    cols,
		rstride: v.rstride,
		cstride: v.cstride,
	}
}

func (v View[T]) Rows() int { return v.rows }
func (v View[T]) Cols() int { return v.cols }

func (v View[T]) At(row, col int) T {
	return v.data[row*v.rstride+col*v.cstride]
}

func (v View[T]) Set(row, col int, val T) {
	v.data[row*v.rstride+col*v.cstride] = val
}

// Fill sets every element of the view.
func (v View[T]) Fill(val T) {
	for r := 0; r < v.rows; r++ {
		for c := 0; c < v.cols; c++ {
			v.data[r*v.rstride+c*v.cstride] = val
		}
	}
}

// Write copies all of src into dst at offset (row, col), honoring the
// strides of both operands. Returns false without copying when the source
// block would fall outside dst.
func Write[T Scalar](src View[T], dst View[T], row, col int) bool {
	if row < 0 || col < 0 ||
		row+src.rows > dst.rows ||
		col+src.cols > dst.cols {
		return false
	}
	copyBlock(dst, row, col, src, 0, 0, src.rows, src.cols)
	return true
}

// Read copies the dst-shaped block of src anchored at (row, col) into dst.
// Returns false without copying when the block would fall outside src.
func Read[T Scalar](src View[T], row, col int, dst View[T]) bool {
	if row < 0 || col < 0 ||
		row+dst.rows > src.rows ||
		col+dst.cols > src.cols {
		return false
	}
	copyBlock(dst, 0, 0, src, row, col, dst.rows, dst.cols)
	return true
}

// copyBlock is the strided element-wise copy. The stride pairs are hoisted;
// when both operands have a unit column stride each row is one slice copy,
// otherwise the inner loop steps by each operand's column stride.
func copyBlock[T Scalar](dst View[T], drow, dcol int, src View[T], srow, scol, rows, cols int) {
	dbase := drow*dst.rstride + dcol*dst.cstride
	sbase := srow*src.rstride + scol*src.cstride

	if dst.cstride == 1 && src.cstride == 1 {
		for r := 0; r < rows; r++ {
			d := dbase + r*dst.rstride
			s := sbase + r*src.rstride
			copy(dst.data[d:d+cols], src.data[s:s+cols])
		}
		return
	}

	for r := 0; r < rows; r++ {
		d := dbase + r*dst.rstride
		s := sbase + r*src.rstride
		for c := 0; c < cols; c++ {
			dst.data[d] = src.data[s]
			d += dst.cstride
			s += src.cstride
		}
	}
}
