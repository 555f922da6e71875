package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketProbes is versioned; v2 entries carry EXIF-oriented dimensions.
var bucketProbes = []byte("probes.v2")

// CacheStats reports probe cache effectiveness.
type CacheStats struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// ProbeCache remembers header probes keyed by path, size and modification
// time, so an edited file is always probed again. Entries live in memory and,
// when a database path is given, in a bbolt file that survives restarts.
type ProbeCache struct {
	mem    sync.Map
	db     *bolt.DB
	hits   atomic.Int64
	misses atomic.Int64
}

// NewProbeCache opens a cache. An empty dbPath gives a memory-only cache.
func NewProbeCache(dbPath string) (*ProbeCache, error) {
	c := &ProbeCache{}
	if dbPath == "" {
		return c, nil
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open probe cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProbes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	c.db = db
	return c, nil
}

// Close releases the database, if any.
func (c *ProbeCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(path string, info os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
}

// Get returns the cached probe for the file, if present.
func (c *ProbeCache) Get(path string, info os.FileInfo) (FrameFile, bool) {
	if c == nil {
		return FrameFile{}, false
	}
	key := cacheKey(path, info)

	if v, ok := c.mem.Load(key); ok {
		c.hits.Add(1)
		return v.(FrameFile), true
	}

	if c.db != nil {
		var data []byte
		c.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketProbes).Get([]byte(key)); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
			}
			return nil
		})
		var f FrameFile
		if data != nil && json.Unmarshal(data, &f) == nil {
			c.mem.Store(key, f)
			c.hits.Add(1)
			return f, true
		}
	}

	c.misses.Add(1)
	return FrameFile{}, false
}

// Put stores a probe result.
func (c *ProbeCache) Put(path string, info os.FileInfo, f FrameFile) {
	if c == nil {
		return
	}
	key := cacheKey(path, info)
	c.mem.Store(key, f)

	if c.db == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProbes).Put([]byte(key), data)
	})
}

// Stats returns hit and miss counts since the cache was opened.
func (c *ProbeCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	s := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
