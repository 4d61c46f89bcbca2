package reader

import (
	"sync"

	"github.com/cachefs/cachefs/internal/config"
)

// Manager owns the process-global cache readers, one per type, created
// lazily. Readers are shared by every cache filesystem so that all facades
// over the same configuration hit the same block cache.
type Manager struct {
	mu     sync.Mutex
	noop   *NoopReader
	inMem  *InMemReader
	disk   *DiskReader
	active CacheReader
}

var defaultManager = &Manager{}

// DefaultManager returns the process-global reader manager.
func DefaultManager() *Manager { return defaultManager }

// SetActive installs (creating if needed) the reader for cfg's cache type
// and returns it.
func (m *Manager) SetActive(cfg *config.Config) CacheReader {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cfg.CacheType {
	case config.CacheTypeNoop:
		if m.noop == nil {
			m.noop = NewNoopReader()
		}
		m.active = m.noop
	case config.CacheTypeInMem:
		if m.inMem == nil {
			m.inMem = NewInMemReader()
		}
		m.active = m.inMem
	case config.CacheTypeOnDisk:
		if m.disk == nil {
			m.disk = NewDiskReader()
		}
		m.disk.SetCacheDirectory(cfg.OnDiskCacheDirectory)
		m.active = m.disk
	}
	return m.active
}

// Active returns the reader selected by the last SetActive, nil before any.
func (m *Manager) Active() CacheReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Readers returns the live readers that actually hold cache state.
func (m *Manager) Readers() []CacheReader {
	m.mu.Lock()
	defer m.mu.Unlock()

	var readers []CacheReader
	if m.inMem != nil {
		readers = append(readers, m.inMem)
	}
	if m.disk != nil {
		readers = append(readers, m.disk)
	}
	return readers
}

// ClearAll clears every live reader's cache.
func (m *Manager) ClearAll() {
	for _, r := range m.allReaders() {
		r.ClearCache()
	}
}

// ClearFile clears the blocks cached for one remote file in every live
// reader.
func (m *Manager) ClearFile(fname string) {
	for _, r := range m.allReaders() {
		r.ClearCacheForFile(fname)
	}
}

func (m *Manager) allReaders() []CacheReader {
	m.mu.Lock()
	defer m.mu.Unlock()

	var readers []CacheReader
	if m.noop != nil {
		readers = append(readers, m.noop)
	}
	if m.inMem != nil {
		readers = append(readers, m.inMem)
	}
	if m.disk != nil {
		readers = append(readers, m.disk)
	}
	return readers
}

// Reset drops all readers. Test helper; in-flight reads must have drained.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noop = nil
	m.inMem = nil
	m.disk = nil
	m.active = nil
}
