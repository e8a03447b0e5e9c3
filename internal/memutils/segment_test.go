package memutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func testPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(ShmDir(), fmt.Sprintf("eigenipc_test_%d_%s", os.Getpid(), name))
	t.Cleanup(func() { os.Remove(path) })
	return path
}

func TestCreateOpenSegment(t *testing.T) {
	path := testPath(t, "create_open")

	seg, err := CreateSegment(path, 64)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer seg.Close(true)

	if len(seg.Mem) != 64 {
		t.Fatalf("mapped %d bytes, want 64", len(seg.Mem))
	}

	seg.Mem[0] = 0xAB

	// A second mapping of the same name observes the write.
	other, err := OpenSegment(path)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	defer other.Close(false)

	if other.Mem[0] != 0xAB {
		t.Fatalf("second mapping reads %#x, want 0xAB", other.Mem[0])
	}
}

func TestCreateSegmentExclusive(t *testing.T) {
	path := testPath(t, "exclusive")

	seg, err := CreateSegment(path, 16)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer seg.Close(true)

	if _, err := CreateSegment(path, 16); !errors.Is(err, ErrMemCreatFail) {
		t.Fatalf("second create: got %v, want ErrMemCreatFail", err)
	}
}

func TestOpenSegmentMissing(t *testing.T) {
	path := testPath(t, "missing")
	if _, err := OpenSegment(path); !errors.Is(err, ErrMemOpenFail) {
		t.Fatalf("got %v, want ErrMemOpenFail", err)
	}
}

func TestCheckMem(t *testing.T) {
	path := testPath(t, "checkmem")

	if CheckMem(path) {
		t.Error("CheckMem reported a stale segment that does not exist")
	}

	seg, err := CreateSegment(path, 16)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	seg.Close(false) // close without unlink: simulates a crashed owner

	if !CheckMem(path) {
		t.Error("CheckMem did not remove the stale segment")
	}
	if SegmentExists(path) {
		t.Error("segment still linked after CheckMem")
	}
}

func TestSegmentCloseIdempotent(t *testing.T) {
	path := testPath(t, "close_idem")

	seg, err := CreateSegment(path, 16)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	if err := seg.Close(true); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := seg.Close(true); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if SegmentExists(path) {
		t.Error("owner Close(unlink) left the name linked")
	}
}

func TestClientCloseDoesNotUnlink(t *testing.T) {
	path := testPath(t, "no_unlink")

	owner, err := CreateSegment(path, 16)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer owner.Close(true)

	opened, err := OpenSegment(path)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	if err := opened.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Only the creating side may unlink, even when asked to.
	if !SegmentExists(path) {
		t.Error("non-owner Close removed the name")
	}
}
