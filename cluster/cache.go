package cluster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Core11-ZoltanK/LichtFeld-Studio/lfs"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
	"github.com/dgraph-io/badger/v3"
	"github.com/golang/snappy"
)

// Store is a byte-oriented key-value store for cached clustering results.
type Store interface {
	// Get returns the value for key or nil if it is not cached.
	Get(key []byte) ([]byte, error)

	// Put stores the value.  Stores may silently drop values they cannot hold.
	Put(key, value []byte) error

	Close() error
}

// Cached wraps a Clusterer and memoizes its results in a Store, keyed by a hash of the
// input points and parameters.  Re-exporting an unchanged scene skips the clustering.
type Cached struct {
	Inner Clusterer
	Store Store
}

func (c *Cached) Name() string {
	return c.Inner.Name()
}

func (c *Cached) Cluster(ctx context.Context, data []float32, dims, k, iterations int) (*Result, error) {
	key := cacheKey(c.Inner.Name(), data, dims, k, iterations)
	if value, err := c.Store.Get(key); err != nil {
		lfs.Warningf("Clustering cache read failed, recomputing: %v\n", err)
	} else if value != nil {
		result, err := cachedResult(value, len(data)/dims)
		if err == nil {
			lfs.Debugf("Clustering cache hit for %d x %d, k=%d\n", len(data)/dims, dims, k)
			return result, nil
		}
		lfs.Warningf("Ignoring bad clustering cache entry: %v\n", err)
	}

	result, err := c.Inner.Cluster(ctx, data, dims, k, iterations)
	if err != nil {
		return nil, err
	}
	value, err := encodeResult(result)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(key, value); err != nil {
		lfs.Warningf("Clustering cache write failed: %v\n", err)
	}
	return result, nil
}

func cacheKey(engine string, data []float32, dims, k, iterations int) []byte {
	h := xxhash.New()
	h.WriteString(engine)
	var buf [8]byte
	for _, v := range []int{dims, k, iterations, len(data)} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	chunk := make([]byte, 0, 4*4096)
	for i, v := range data {
		chunk = binary.LittleEndian.AppendUint32(chunk, math.Float32bits(v))
		if len(chunk) == cap(chunk) || i == len(data)-1 {
			h.Write(chunk)
			chunk = chunk[:0]
		}
	}
	key := make([]byte, 0, 24)
	key = append(key, "kmeans/"...)
	return binary.BigEndian.AppendUint64(key, h.Sum64())
}

func encodeResult(r *Result) ([]byte, error) {
	raw, err := r.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeResult(value []byte) (*Result, error) {
	raw, err := snappy.Decode(nil, value)
	if err != nil {
		return nil, fmt.Errorf("can't decompress cached result: %v", err)
	}
	result := new(Result)
	if _, err := result.UnmarshalMsg(raw); err != nil {
		return nil, fmt.Errorf("can't deserialize cached result: %v", err)
	}
	return result, nil
}

// cachedResult decodes a cache entry and checks it against the n points being clustered.
func cachedResult(value []byte, n int) (*Result, error) {
	result, err := decodeResult(value)
	if err != nil {
		return nil, err
	}
	if err := result.Check(n); err != nil {
		return nil, fmt.Errorf("cached result is inconsistent: %v", err)
	}
	return result, nil
}

// MemoryStore is an in-process Store backed by freecache.
type MemoryStore struct {
	cache *freecache.Cache
}

// NewMemoryStore returns a Store holding up to numBytes of cached results.
func NewMemoryStore(numBytes int) *MemoryStore {
	lfs.Infof("Created freecache of ~ %s for clustering results.\n", lfs.Bytes(int64(numBytes)))
	return &MemoryStore{cache: freecache.NewCache(numBytes)}
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	value, err := s.cache.Get(key)
	if err == freecache.ErrNotFound {
		return nil, nil
	}
	return value, err
}

func (s *MemoryStore) Put(key, value []byte) error {
	err := s.cache.Set(key, value, 0)
	if err == freecache.ErrLargeEntry {
		lfs.Debugf("Clustering result of %s too large for memory cache, skipping\n", lfs.Bytes(int64(len(value))))
		return nil
	}
	return err
}

func (s *MemoryStore) Close() error {
	s.cache.Clear()
	return nil
}

// DiskStore is a persistent Store backed by a badger database directory.
type DiskStore struct {
	db *badger.DB
}

// OpenDiskStore opens or creates a badger database at path.
func OpenDiskStore(path string) (*DiskStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open clustering cache at %q: %v", path, err)
	}
	lfs.Infof("Opened clustering cache at %s\n", path)
	return &DiskStore{db: db}, nil
}

func (s *DiskStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (s *DiskStore) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if errors.Is(err, badger.ErrTxnTooBig) || errors.Is(err, badger.ErrValueLogSize) {
		lfs.Debugf("Clustering result of %s too large for disk cache, skipping\n", lfs.Bytes(int64(len(value))))
		return nil
	}
	return err
}

func (s *DiskStore) Close() error {
	return s.db.Close()
}
