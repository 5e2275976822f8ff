package docstore

import (
	"context"
	"sort"
	"sync"
)

type memoryRecord struct {
	doc Doc
	seq uint64
}

// MemoryStore keeps documents in process memory. Transactions take the
// store lock for their whole body, which gives strict serializability at
// the cost of concurrency; fine for tests and single-binary runs.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]memoryRecord // collection -> id -> record
	seq  uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[string]memoryRecord{}}
}

type memoryTx struct {
	store   *MemoryStore
	writes  map[string]map[string]*Doc // nil *Doc marks deletion
	touched []struct{ collection, id string }
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, writes: map[string]map[string]*Doc{}}
	if err := fn(tx); err != nil {
		return err
	}

	for _, key := range tx.touched {
		pending := tx.writes[key.collection][key.id]
		coll := s.data[key.collection]
		if pending == nil {
			delete(coll, key.id)
			continue
		}
		if coll == nil {
			coll = map[string]memoryRecord{}
			s.data[key.collection] = coll
		}
		s.seq++
		coll[key.id] = memoryRecord{doc: Clone(*pending), seq: s.seq}
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Doc, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[collection][id]
	if !ok {
		return nil, false, nil
	}
	return Clone(rec.doc), true, nil
}

func (s *MemoryStore) List(ctx context.Context, collection string, limit int) ([]Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		doc Doc
		seq uint64
	}
	rows := make([]row, 0, len(s.data[collection]))
	for _, rec := range s.data[collection] {
		rows = append(rows, row{doc: rec.doc, seq: rec.seq})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]Doc, len(rows))
	for i, r := range rows {
		out[i] = Clone(r.doc)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (tx *memoryTx) Get(collection, id string) (Doc, bool, error) {
	if pending, staged := tx.writes[collection][id]; staged {
		if pending == nil {
			return nil, false, nil
		}
		return Clone(*pending), true, nil
	}
	rec, ok := tx.store.data[collection][id]
	if !ok {
		return nil, false, nil
	}
	return Clone(rec.doc), true, nil
}

func (tx *memoryTx) Create(collection, id string, doc Doc) error {
	if _, exists, _ := tx.Get(collection, id); exists {
		return ErrExists
	}
	tx.stage(collection, id, &doc)
	return nil
}

func (tx *memoryTx) Set(collection, id string, doc Doc) error {
	tx.stage(collection, id, &doc)
	return nil
}

func (tx *memoryTx) Delete(collection, id string) error {
	tx.stage(collection, id, nil)
	return nil
}

func (tx *memoryTx) stage(collection, id string, doc *Doc) {
	coll := tx.writes[collection]
	if coll == nil {
		coll = map[string]*Doc{}
		tx.writes[collection] = coll
	}
	if _, staged := coll[id]; !staged {
		tx.touched = append(tx.touched, struct{ collection, id string }{collection, id})
	}
	if doc != nil {
		cloned := Clone(*doc)
		coll[id] = &cloned
	} else {
		coll[id] = nil
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memoryTx)(nil)
)
