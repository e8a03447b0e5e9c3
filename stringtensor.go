package eigenipc

import (
	"context"

	"github.com/AndrePatri/EigenIPC/journal"
)

// StrNRowsDefault is the default chunk count per string: each column
// carries up to StrNRowsDefault*4-1 bytes of UTF-8.
const StrNRowsDefault = 100

// strChunk is the byte width of one integer cell of the encoding.
const strChunk = 4

// stringCodec packs variable-length UTF-8 strings column-wise into a
// fixed-shape int32 matrix. Cell encoding is little-endian, four bytes per
// cell, zero-terminated within the last used cell; unused bytes are zero.
type stringCodec struct {
	nRows  int
	length int
	buffer *Tensor[int32]
}

// fits reports whether count strings starting at col stay inside the
// tensor.
func (sc *stringCodec) fits(count, col int) bool {
	return col >= 0 && col+count <= sc.length
}

// encodeStr encodes one string into the given buffer column. Reports
// false when the string cannot fit with its terminator.
func (sc *stringCodec) encodeStr(s string, col int) bool {
	if len(s) > sc.nRows*strChunk-1 {
		return false
	}

	for row := 0; row < sc.nRows; row++ {
		sc.buffer.Set(row, col, 0)
	}

	for i, row := 0, 0; i < len(s); i, row = i+strChunk, row+1 {
		var cell int32
		for j := 0; j < strChunk && i+j < len(s); j++ {
			cell |= int32(s[i+j]) << (8 * j)
		}
		sc.buffer.Set(row, col, cell)
	}
	return true
}

func (sc *stringCodec) encodeVec(vec []string, col int) bool {
	if !sc.fits(len(vec), col) {
		return false
	}
	for _, s := range vec {
		if !sc.encodeStr(s, col) {
			return false
		}
		col++
	}
	return true
}

// decodeStr rebuilds one string from a buffer column. A zero byte inside a
// cell terminates the string.
func (sc *stringCodec) decodeStr(col int) string {
	out := make([]byte, 0, sc.nRows*strChunk)
	for row := 0; row < sc.nRows; row++ {
		cell := sc.buffer.At(row, col)
		for j := 0; j < strChunk; j++ {
			b := byte(cell >> (8 * j))
			if b == 0 {
				return string(out)
			}
			out = append(out, b)
		}
	}
	return string(out)
}

func (sc *stringCodec) decodeVec(dst []string, col int) bool {
	if !sc.fits(len(dst), col) {
		return false
	}
	for i := range dst {
		dst[i] = sc.decodeStr(col)
		col++
	}
	return true
}

// rawBufferCopy returns a copy of the backing integer buffer; callers must
// not be handed the live buffer.
func (sc *stringCodec) rawBufferCopy() *Tensor[int32] {
	out := NewTensor[int32](sc.nRows, sc.length, sc.buffer.Layout())
	for r := 0; r < sc.nRows; r++ {
		for c := 0; c < sc.length; c++ {
			out.Set(r, c, sc.buffer.At(r, c))
		}
	}
	return out
}

// StringTensorOptions carries the optional construction parameters of the
// string-tensor wrappers. NRowsFixed overrides the per-string chunk count
// on the server side; zero means StrNRowsDefault.
type StringTensorOptions struct {
	Verbose           bool
	VLevel            journal.VLevel
	ForceReconnection bool
	Safe              bool
	NRowsFixed        int
}

// StringTensorServer owns a vector of `length` strings shared as an
// (nRowsFixed × length) int32 tensor.
//
// String reads and writes are atomic only per underlying tensor
// operation; callers needing a consistent multi-column snapshot serialize
// externally with DataSemAcquire/DataSemRelease on the shared memory.
type StringTensorServer struct {
	stringCodec
	srvr    *Server[int32]
	running bool
}

// NewStringTensorServer creates the backing tensor server for `length`
// strings.
func NewStringTensorServer(length int, basename, namespace string, opts StringTensorOptions) (*StringTensorServer, error) {
	nRows := opts.NRowsFixed
	if nRows <= 0 {
		nRows = StrNRowsDefault
	}

	srvr, err := NewServer[int32](nRows, length, basename, namespace, MemLayoutDefault, ServerOptions{
		Verbose:           opts.Verbose,
		VLevel:            opts.VLevel,
		ForceReconnection: opts.ForceReconnection,
		Safe:              opts.Safe,
	})
	if err != nil {
		return nil, err
	}

	return &StringTensorServer{
		stringCodec: stringCodec{
			nRows:  nRows,
			length: length,
			buffer: NewTensor[int32](nRows, length, MemLayoutDefault),
		},
		srvr: srvr,
	}, nil
}

// Run starts the underlying tensor server. Idempotent.
func (st *StringTensorServer) Run() error {
	if st.running {
		return nil
	}
	if err := st.srvr.Run(); err != nil {
		return err
	}
	st.running = true
	return nil
}

// Close shuts the underlying server down.
func (st *StringTensorServer) Close() error {
	st.running = false
	return st.srvr.Close()
}

// Write encodes vec into the columns starting at colOffset and forwards
// one block write to the shared tensor. Refused when the vector does not
// fit, any string overflows a column, or the underlying write fails.
func (st *StringTensorServer) Write(vec []string, colOffset int) bool {
	if !st.running || !st.encodeVec(vec, colOffset) {
		return false
	}
	return st.srvr.WriteView(st.buffer.Block(0, colOffset, st.nRows, len(vec)), 0, colOffset)
}

// WriteString encodes one string into the column at colOffset.
func (st *StringTensorServer) WriteString(s string, colOffset int) bool {
	if !st.running || colOffset < 0 || colOffset >= st.length || !st.encodeStr(s, colOffset) {
		return false
	}
	return st.srvr.WriteView(st.buffer.Block(0, colOffset, st.nRows, 1), 0, colOffset)
}

// Read fills dst from the columns starting at colOffset.
func (st *StringTensorServer) Read(dst []string, colOffset int) bool {
	if !st.running || !st.fits(len(dst), colOffset) {
		return false
	}
	if !st.srvr.ReadView(st.buffer.Block(0, colOffset, st.nRows, len(dst)), 0, colOffset) {
		return false
	}
	return st.decodeVec(dst, colOffset)
}

// ReadString decodes the column at colOffset.
func (st *StringTensorServer) ReadString(colOffset int) (string, bool) {
	if !st.running || colOffset < 0 || colOffset >= st.length {
		return "", false
	}
	if !st.srvr.ReadView(st.buffer.Block(0, colOffset, st.nRows, 1), 0, colOffset) {
		return "", false
	}
	return st.decodeStr(colOffset), true
}

func (st *StringTensorServer) IsRunning() bool { return st.running }
func (st *StringTensorServer) Length() int     { return st.length }

// NClients forwards the published client count of the backing server.
func (st *StringTensorServer) NClients() (int, error) { return st.srvr.NClients() }

func (st *StringTensorServer) Namespace() string { return st.srvr.Namespace() }
func (st *StringTensorServer) Basename() string  { return st.srvr.Basename() }

// RawBuffer returns a copy of the backing integer buffer.
func (st *StringTensorServer) RawBuffer() *Tensor[int32] { return st.rawBufferCopy() }

// DataSemAcquire and DataSemRelease expose the underlying data semaphore
// so callers can make multi-column string operations atomic.
func (st *StringTensorServer) DataSemAcquire() error { return st.srvr.DataSemAcquire() }
func (st *StringTensorServer) DataSemRelease() error { return st.srvr.DataSemRelease() }

// StringTensorClient attaches to a StringTensorServer by name and reads
// the vector length from the published tensor shape.
type StringTensorClient struct {
	stringCodec
	clnt    *Client[int32]
	running bool
}

// NewStringTensorClient prepares a detached string-tensor client.
func NewStringTensorClient(basename, namespace string, opts StringTensorOptions) *StringTensorClient {
	return &StringTensorClient{
		clnt: NewClient[int32](basename, namespace, MemLayoutDefault, ClientOptions{
			Verbose: opts.Verbose,
			VLevel:  opts.VLevel,
			Safe:    opts.Safe,
		}),
	}
}

// Run attaches the underlying client and sizes the codec buffer from the
// published shape. Idempotent.
func (st *StringTensorClient) Run(ctx context.Context) error {
	if st.running {
		return nil
	}
	if err := st.clnt.Attach(ctx); err != nil {
		return err
	}

	st.nRows = st.clnt.NRows()
	st.length = st.clnt.NCols()
	st.buffer = NewTensor[int32](st.nRows, st.length, MemLayoutDefault)

	st.running = true
	return nil
}

// Close detaches and unmaps the underlying client.
func (st *StringTensorClient) Close() error {
	st.running = false
	return st.clnt.Close()
}

// Write encodes vec into the columns starting at colOffset and forwards
// one block write.
func (st *StringTensorClient) Write(vec []string, colOffset int) bool {
	if !st.running || !st.encodeVec(vec, colOffset) {
		return false
	}
	return st.clnt.WriteView(st.buffer.Block(0, colOffset, st.nRows, len(vec)), 0, colOffset)
}

// WriteString encodes one string into the column at colOffset.
func (st *StringTensorClient) WriteString(s string, colOffset int) bool {
	if !st.running || colOffset < 0 || colOffset >= st.length || !st.encodeStr(s, colOffset) {
		return false
	}
	return st.clnt.WriteView(st.buffer.Block(0, colOffset, st.nRows, 1), 0, colOffset)
}

// Read fills dst from the columns starting at colOffset.
func (st *StringTensorClient) Read(dst []string, colOffset int) bool {
	if !st.running || !st.fits(len(dst), colOffset) {
		return false
	}
	if !st.clnt.ReadView(st.buffer.Block(0, colOffset, st.nRows, len(dst)), 0, colOffset) {
		return false
	}
	return st.decodeVec(dst, colOffset)
}

// ReadString decodes the column at colOffset.
func (st *StringTensorClient) ReadString(colOffset int) (string, bool) {
	if !st.running || colOffset < 0 || colOffset >= st.length {
		return "", false
	}
	if !st.clnt.ReadView(st.buffer.Block(0, colOffset, st.nRows, 1), 0, colOffset) {
		return "", false
	}
	return st.decodeStr(colOffset), true
}

func (st *StringTensorClient) IsRunning() bool { return st.running }
func (st *StringTensorClient) Length() int     { return st.length }

func (st *StringTensorClient) Namespace() string { return st.clnt.Namespace() }
func (st *StringTensorClient) Basename() string  { return st.clnt.Basename() }

// RawBuffer returns a copy of the backing integer buffer.
func (st *StringTensorClient) RawBuffer() *Tensor[int32] { return st.rawBufferCopy() }

func (st *StringTensorClient) DataSemAcquire() error { return st.clnt.DataSemAcquire() }
func (st *StringTensorClient) DataSemRelease() error { return st.clnt.DataSemRelease() }
