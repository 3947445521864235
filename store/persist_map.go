package store

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/log"
)

// PersistMap is a caps.Map backed by LevelDB, so map contents survive across
// process restarts. LevelDB handles its own synchronization for the database;
// the live-buffer cache has its own lock.
//
// Lookup must return a buffer that keeps observing later updates, the same
// aliasing contract the in-memory map gives. Each key therefore gets one
// stable live buffer: lookups hand it out, updates copy through it on their
// way to the database.
type PersistMap struct {
	spec caps.MapSpec
	db   *leveldb.DB

	mu   sync.Mutex
	live map[string][]byte
}

// OpenMap opens or creates a persistent map at the given path. An empty path
// uses in-memory storage, which is handy in tests.
func OpenMap(path string, spec caps.MapSpec) (*PersistMap, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open map database at %s: %w", path, err)
	}

	log.Debug(log.StoreMonitoring, "persistent map opened", "path", path, "id", spec.ID, "name", spec.Name)
	return &PersistMap{
		spec: spec,
		db:   db,
		live: make(map[string][]byte),
	}, nil
}

// Close flushes and closes the underlying database.
func (p *PersistMap) Close() error {
	return p.db.Close()
}

func (p *PersistMap) Spec() caps.MapSpec { return p.spec }

func (p *PersistMap) Lookup(key []byte) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if buf, ok := p.live[string(key)]; ok {
		return buf
	}
	data, err := p.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		log.Warn(log.StoreMonitoring, "map lookup failed", "id", p.spec.ID, "err", err)
		return nil
	}
	if uint32(len(data)) != p.spec.ValueSize {
		log.Warn(log.StoreMonitoring, "stored value has wrong size", "id", p.spec.ID, "got", len(data), "want", p.spec.ValueSize)
		return nil
	}
	buf := append([]byte(nil), data...)
	p.live[string(key)] = buf
	return buf
}

func (p *PersistMap) Update(key, value []byte) error {
	if uint32(len(key)) != p.spec.KeySize {
		return fmt.Errorf("key size %d, want %d", len(key), p.spec.KeySize)
	}
	if uint32(len(value)) != p.spec.ValueSize {
		return fmt.Errorf("value size %d, want %d", len(value), p.spec.ValueSize)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if buf, ok := p.live[string(key)]; ok {
		copy(buf, value)
	} else {
		p.live[string(key)] = append([]byte(nil), value...)
	}
	return p.db.Put(key, value, nil)
}

func (p *PersistMap) Delete(key []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.db.Get(key, nil); err == leveldb.ErrNotFound {
		if _, ok := p.live[string(key)]; !ok {
			return fmt.Errorf("key not found")
		}
	} else if err != nil {
		return fmt.Errorf("Delete %x: %w", key, err)
	}
	delete(p.live, string(key))
	return p.db.Delete(key, nil)
}

// Flush writes any live buffers back to the database. Updates already write
// through, so this is only needed after a program mutated a looked-up value
// in place.
func (p *PersistMap) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := new(leveldb.Batch)
	for k, buf := range p.live {
		batch.Put([]byte(k), buf)
	}
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
