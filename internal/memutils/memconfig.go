package memutils

import (
	"os"
	"path/filepath"
)

// Name suffixes of the per-server OS objects. The data segment, the six
// metadata cells and the two semaphores of one server all share the same
// "<namespace>_<basename>" stem and differ only in the suffix.
const (
	suffixData      = "data"
	suffixNRows     = "nrows"
	suffixNCols     = "ncols"
	suffixClients   = "clients"
	suffixDType     = "dtype"
	suffixIsRunning = "isrunning"
	suffixMemLayout = "memlayout"
	suffixServerSem = "serversem"
	suffixDataSem   = "datasem"
	suffixCondVar   = "condvar"
)

// MemConfig derives the rendezvous paths for every named object of one
// (basename, namespace) pair.
type MemConfig struct {
	Basename  string
	Namespace string
}

func NewMemConfig(basename, namespace string) MemConfig {
	return MemConfig{Basename: basename, Namespace: namespace}
}

func (c MemConfig) path(suffix string) string {
	return filepath.Join(ShmDir(), c.Namespace+"_"+c.Basename+"_"+suffix)
}

func (c MemConfig) DataPath() string      { return c.path(suffixData) }
func (c MemConfig) NRowsPath() string     { return c.path(suffixNRows) }
func (c MemConfig) NColsPath() string     { return c.path(suffixNCols) }
func (c MemConfig) ClientsPath() string   { return c.path(suffixClients) }
func (c MemConfig) DTypePath() string     { return c.path(suffixDType) }
func (c MemConfig) IsRunningPath() string { return c.path(suffixIsRunning) }
func (c MemConfig) MemLayoutPath() string { return c.path(suffixMemLayout) }
func (c MemConfig) ServerSemPath() string { return c.path(suffixServerSem) }
func (c MemConfig) DataSemPath() string   { return c.path(suffixDataSem) }
func (c MemConfig) CondVarPath() string   { return c.path(suffixCondVar) }

// ShmDir returns the directory backing named segments: /dev/shm when
// present, otherwise the temp directory. Mappings are shared either way;
// only the paging behavior differs.
func ShmDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
