package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrItemTooLarge is returned when a clip does not fit in a tier at all.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheClosed is returned by Put after Close.
	ErrCacheClosed = errors.New("cache is closed")
)

// Cache is one storage tier of synthesized PCM keyed by Key.String.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, pcm []byte) error
	Delete(key string) error
	Clear() error
	Size() int64
	Stats() CacheStats
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*DiskCache)(nil)
)

// CacheStats describes one tier. Sizes are in bytes; for the disk tier they
// are the compressed sizes.
type CacheStats struct {
	Capacity  int64
	Size      int64
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64

	LastAccess time.Time
	LastEvict  time.Time
}

func (s *CacheStats) updateHitRate() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// CacheConfig configures a Manager.
type CacheConfig struct {
	MemoryCapacity   int64  // L1 bytes
	DiskCapacity     int64  // L2 bytes; 0 disables the disk tier
	DiskPath         string // L2 directory
	CompressionLevel int    // zstd level 1-22; 0 stores raw PCM

	// Clips older than TTL are dropped from both tiers. 0 keeps them until
	// they are evicted.
	TTL             time.Duration
	CleanupInterval time.Duration // 0 disables the cleanup loop
}

// DefaultCacheConfig returns a memory-only configuration with the default
// sizes. Set DiskPath to enable the disk tier.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MemoryCapacity:   64 << 20,
		DiskCapacity:     512 << 20,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Key identifies one synthesized utterance. Every field that changes the
// audio is part of it.
type Key struct {
	Source     string // synthesizer identity, e.g. "http https://host/v1/audio/speech"
	Text       string
	Model      string
	Voice      string
	Speed      float64
	Gain       float64
	SampleRate int
	Channels   int
}

// String returns the hex SHA-256 of the key fields, safe to use as a file
// name.
func (k Key) String() string {
	h := sha256.New()
	for _, field := range []string{
		k.Source,
		k.Model,
		k.Voice,
		strconv.FormatFloat(k.Speed, 'f', 3, 64),
		strconv.FormatFloat(k.Gain, 'f', 2, 64),
		strconv.Itoa(k.SampleRate),
		strconv.Itoa(k.Channels),
		k.Text,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
