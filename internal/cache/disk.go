package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	rawExt = ".pcm"
	zstExt = ".pcm.zst"

	// Clips shorter than this are stored raw.
	minCompressSize = 1024
)

// DiskCache is the L2 tier: one file per clip under dir, named after the
// cache key. With a compression level set, clips are stored zstd-compressed
// when that makes them smaller. The directory is the index and is rescanned
// on open, so the cache survives restarts.
type DiskCache struct {
	dir      string
	capacity int64

	enc *zstd.Encoder // nil when compression is off
	dec *zstd.Decoder

	mu    sync.Mutex
	used  int64
	files map[string]*diskFile
	stats CacheStats
}

type diskFile struct {
	name     string
	size     int64 // bytes on disk
	added    time.Time
	accessed time.Time
}

func (f *diskFile) compressed() bool {
	return strings.HasSuffix(f.name, zstExt)
}

// NewDiskCache opens or creates a disk cache in dir holding up to capacity
// bytes on disk. compressionLevel follows zstd levels; 0 disables it.
func NewDiskCache(dir string, capacity int64, compressionLevel int) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	dc := &DiskCache{
		dir:      dir,
		capacity: capacity,
		dec:      dec,
		files:    make(map[string]*diskFile),
		stats:    CacheStats{Capacity: capacity},
	}

	if compressionLevel > 0 {
		dc.enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	if err := dc.scan(); err != nil {
		dc.Close()
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	return dc, nil
}

// scan rebuilds the in-memory view from the files in dir.
func (dc *DiskCache) scan() error {
	entries, err := os.ReadDir(dc.dir)
	if err != nil {
		return err
	}

	for _, de := range entries {
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".tmp") {
			// Interrupted write
			_ = os.Remove(filepath.Join(dc.dir, name))
			continue
		}

		key, ok := keyFromName(name)
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		f := &diskFile{name: name, size: info.Size(), added: info.ModTime(), accessed: info.ModTime()}
		if prev, dup := dc.files[key]; dup {
			// Both a raw and a compressed copy; keep the newer one
			if prev.added.After(f.added) {
				_ = os.Remove(filepath.Join(dc.dir, f.name))
				continue
			}
			_ = dc.remove(key, prev)
		}
		dc.files[key] = f
		dc.used += f.size
	}

	for dc.used > dc.capacity && len(dc.files) > 0 {
		dc.evictLRU()
	}
	dc.sync()
	return nil
}

func keyFromName(name string) (string, bool) {
	for _, ext := range []string{zstExt, rawExt} {
		if key, ok := strings.CutSuffix(name, ext); ok && key != "" {
			return key, true
		}
	}
	return "", false
}

// Get returns the clip stored under key. Unreadable files are dropped and
// count as misses.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	f, ok := dc.files[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	pcm, err := os.ReadFile(dc.path(f))
	if err == nil && f.compressed() {
		pcm, err = dc.dec.DecodeAll(pcm, nil)
	}
	if err != nil {
		_ = dc.remove(key, f)
		dc.stats.Misses++
		return nil, false
	}

	f.accessed = time.Now()
	dc.stats.Hits++
	dc.stats.LastAccess = f.accessed
	return pcm, true
}

// Put writes pcm under key, evicting least recently read clips to stay
// within capacity.
func (dc *DiskCache) Put(key string, pcm []byte) error {
	if key == "" || filepath.Base(key) != key || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid cache key %q", key)
	}

	data, name := pcm, key+rawExt
	if dc.enc != nil && len(pcm) >= minCompressSize {
		if z := dc.enc.EncodeAll(pcm, nil); len(z) < len(pcm) {
			data, name = z, key+zstExt
		}
	}

	size := int64(len(data))
	if size > dc.capacity {
		return ErrItemTooLarge
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if prev, ok := dc.files[key]; ok {
		_ = dc.remove(key, prev)
	}
	for dc.used+size > dc.capacity && len(dc.files) > 0 {
		dc.evictLRU()
	}

	f := &diskFile{name: name, size: size}
	if err := writeFileAtomic(dc.path(f), data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	f.added = time.Now()
	f.accessed = f.added

	dc.files[key] = f
	dc.used += size
	dc.sync()
	return nil
}

// Delete removes the clip stored under key, if any.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if f, ok := dc.files[key]; ok {
		return dc.remove(key, f)
	}
	return nil
}

// Clear removes every clip file.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var firstErr error
	for key, f := range dc.files {
		if err := dc.remove(key, f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RemoveOlderThan removes clips written before cutoff and returns how many
// were removed.
func (dc *DiskCache) RemoveOlderThan(cutoff time.Time) int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, f := range dc.files {
		if f.added.Before(cutoff) {
			_ = dc.remove(key, f)
			removed++
		}
	}
	dc.stats.Evictions += int64(removed)
	return removed
}

// Size returns the bytes used on disk.
func (dc *DiskCache) Size() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.used
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() CacheStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.updateHitRate()
	return stats
}

// Close releases the codecs. Clip files stay on disk.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.enc != nil {
		_ = dc.enc.Close()
		dc.enc = nil
	}
	if dc.dec != nil {
		dc.dec.Close()
		dc.dec = nil
	}
	return nil
}

func (dc *DiskCache) path(f *diskFile) string {
	return filepath.Join(dc.dir, f.name)
}

func (dc *DiskCache) remove(key string, f *diskFile) error {
	delete(dc.files, key)
	dc.used -= f.size
	dc.sync()

	err := os.Remove(dc.path(f))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (dc *DiskCache) evictLRU() {
	var victimKey string
	var victim *diskFile
	for key, f := range dc.files {
		if victim == nil || f.accessed.Before(victim.accessed) {
			victimKey, victim = key, f
		}
	}
	if victim == nil {
		return
	}

	_ = dc.remove(victimKey, victim)
	dc.stats.Evictions++
	dc.stats.LastEvict = time.Now()
}

func (dc *DiskCache) sync() {
	dc.stats.Size = dc.used
	dc.stats.ItemCount = int64(len(dc.files))
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
