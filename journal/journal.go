// Package journal is the diagnostic channel of the library: four
// severities and four verbosity levels. Diagnostics are side effects only
// and carry no contract; callers gate emission on their own verbose flag
// and VLevel before calling Log.
package journal

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// LogType is the severity of one diagnostic line.
type LogType int

const (
	Info LogType = iota
	Stat
	Warn
	Excep
)

func (t LogType) String() string {
	switch t {
	case Info:
		return "INFO"
	case Stat:
		return "STAT"
	case Warn:
		return "WARN"
	case Excep:
		return "EXCEP"
	default:
		return "NONE"
	}
}

// VLevel is the verbosity threshold a component was constructed with.
// Higher levels include everything below them.
type VLevel int

const (
	V0 VLevel = iota
	V1
	V2
	V3
)

var mu sync.Mutex

// Journal emits diagnostics for one named component. The zero value is
// unusable; construct with New.
type Journal struct {
	name string
}

func New(name string) *Journal {
	return &Journal{name: name}
}

// Log writes one line to stderr: timestamp, component, calling method,
// severity, message. Lines from concurrent components do not interleave.
func (j *Journal) Log(caller, msg string, t LogType) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "[%s][%s][%s][%s]: %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		j.name, caller, t, msg)
}

// Logf is Log with printf formatting of the message.
func (j *Journal) Logf(caller string, t LogType, format string, args ...any) {
	j.Log(caller, fmt.Sprintf(format, args...), t)
}
