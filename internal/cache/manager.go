package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager coordinates the memory and disk tiers. Reads check L1 then L2 and
// promote L2 hits into L1; writes go to both tiers.
type Manager struct {
	l1Memory *MemoryCache
	l2Disk   *DiskCache // nil when the disk tier is disabled

	config *CacheConfig
	logger *log.Logger

	// Cleanup goroutine control
	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	stats  ManagerStats
}

// ManagerStats aggregates hits across tiers.
type ManagerStats struct {
	TotalHits   int64
	TotalMisses int64
	L1Hits      int64
	L2Hits      int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time

	L1 CacheStats
	L2 CacheStats
}

// NewManager creates a cache manager. A config without DiskPath or with zero
// DiskCapacity runs memory-only.
func NewManager(config *CacheConfig, logger *log.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if logger == nil {
		logger = log.Default().WithPrefix("cache")
	}

	m := &Manager{
		l1Memory:    NewMemoryCache(config.MemoryCapacity, config.TTL),
		config:      config,
		logger:      logger,
		cleanupStop: make(chan struct{}),
	}

	if config.DiskPath != "" && config.DiskCapacity > 0 {
		l2, err := NewDiskCache(config.DiskPath, config.DiskCapacity, config.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.l2Disk = l2
	}

	if config.CleanupInterval > 0 && config.TTL > 0 {
		m.cleanupWg.Add(1)
		go m.cleanupLoop()
	}

	logger.Debug("Cache initialized",
		"memory_capacity", config.MemoryCapacity,
		"disk_path", config.DiskPath,
		"disk_capacity", config.DiskCapacity)

	return m, nil
}

// Get retrieves a value from the cache hierarchy.
func (m *Manager) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}
	m.mu.Unlock()

	if data, ok := m.l1Memory.Get(key); ok {
		m.record(func(s *ManagerStats) { s.L1Hits++; s.TotalHits++ })
		return data, true
	}

	if m.l2Disk != nil {
		if data, ok := m.l2Disk.Get(key); ok {
			// Promote to L1 for faster future access
			promoted := m.l1Memory.Put(key, data) == nil
			m.record(func(s *ManagerStats) {
				s.L2Hits++
				s.TotalHits++
				if promoted {
					s.Promotions++
				}
			})
			return data, true
		}
	}

	m.record(func(s *ManagerStats) { s.TotalMisses++ })
	return nil, false
}

// Put stores a value in both tiers. An item too large for one tier is still
// stored in the other.
func (m *Manager) Put(key string, value []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrCacheClosed
	}

	l1Err := m.l1Memory.Put(key, value)
	if m.l2Disk == nil {
		return l1Err
	}

	if err := m.l2Disk.Put(key, value); err != nil {
		if l1Err != nil {
			return fmt.Errorf("cache put failed: %w", err)
		}
		m.logger.Warn("Disk cache write failed", "key", key[:min(len(key), 12)], "error", err)
	}
	return nil
}

// Delete removes a key from every tier.
func (m *Manager) Delete(key string) error {
	_ = m.l1Memory.Delete(key)
	if m.l2Disk != nil {
		return m.l2Disk.Delete(key)
	}
	return nil
}

// Clear empties every tier.
func (m *Manager) Clear() error {
	_ = m.l1Memory.Clear()
	if m.l2Disk != nil {
		return m.l2Disk.Clear()
	}
	return nil
}

// Stats returns a snapshot of the manager and tier statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := m.stats
	m.mu.Unlock()

	stats.L1 = m.l1Memory.Stats()
	if m.l2Disk != nil {
		stats.L2 = m.l2Disk.Stats()
	}
	return stats
}

// Close stops the cleanup loop and releases the disk tier.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.cleanupStop)
	m.cleanupWg.Wait()

	if m.l2Disk != nil {
		return m.l2Disk.Close()
	}
	return nil
}

func (m *Manager) record(fn func(*ManagerStats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.cleanupStop:
			return
		case <-ticker.C:
			m.performCleanup()
		}
	}
}

func (m *Manager) performCleanup() {
	removed := m.l1Memory.RemoveExpired()
	if m.l2Disk != nil {
		removed += m.l2Disk.RemoveOlderThan(time.Now().Add(-m.config.TTL))
	}
	m.record(func(s *ManagerStats) {
		s.CleanupRuns++
		s.LastCleanup = time.Now()
	})
	if removed > 0 {
		m.logger.Debug("Expired cache entries removed", "count", removed)
	}
}
