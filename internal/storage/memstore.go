package storage

import (
	"sort"
	"sync"

	"github.com/zhangyunhao116/skipmap"

	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/model"
)

// loggedBatch is one committed batch retained for replication.
type loggedBatch struct {
	firstSeq uint64
	count    int
	payload  []byte
}

// MemStore is an in-memory Adapter: a concurrent ordered key space plus a
// batch log addressed by sequence number. The log is retained in full;
// truncation belongs to the engine, not the replicator.
type MemStore struct {
	keys *skipmap.StringMap[[]byte]

	mu     sync.RWMutex
	log    []loggedBatch
	latest uint64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		keys: skipmap.NewString[[]byte](),
	}
}

// Write commits the batch and returns the sequence of its last record.
func (s *MemStore) Write(batch *model.Batch) (uint64, error) {
	if batch == nil || batch.Count() == 0 {
		return 0, errors.InvalidArgument("empty batch", nil)
	}
	payload, err := model.EncodeRecords(batch.Records)
	if err != nil {
		return 0, errors.WriteError("failed to encode batch", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	firstSeq := s.latest + 1
	s.applyLocked(batch.Records)
	s.log = append(s.log, loggedBatch{firstSeq: firstSeq, count: batch.Count(), payload: payload})
	s.latest += uint64(batch.Count())
	return s.latest, nil
}

// LatestSeq returns the sequence number of the most recent record.
func (s *MemStore) LatestSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// UpdatesSince returns up to maxBatches batches starting at seq.
func (s *MemStore) UpdatesSince(seq uint64, maxBatches int) ([]model.Update, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq == 0 {
		return nil, 0, errors.InvalidArgument("sequence numbers start at 1", nil)
	}
	if seq > s.latest {
		return nil, seq, nil
	}

	i := sort.Search(len(s.log), func(i int) bool { return s.log[i].firstSeq >= seq })
	if i == len(s.log) || s.log[i].firstSeq != seq {
		return nil, seq, errors.Internal("requested sequence is not a batch boundary", nil)
	}

	next := seq
	var updates []model.Update
	for ; i < len(s.log) && len(updates) < maxBatches; i++ {
		b := s.log[i]
		updates = append(updates, model.Update{Seq: b.firstSeq, Payload: b.payload})
		next = b.firstSeq + uint64(b.count)
	}
	return updates, next, nil
}

// Apply commits a batch shipped from an upstream.
func (s *MemStore) Apply(payload []byte, expectedSeq uint64) error {
	records, err := model.DecodeRecords(payload)
	if err != nil {
		return errors.WriteError("failed to decode batch payload", err)
	}
	if len(records) == 0 {
		return errors.InvalidArgument("empty batch payload", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest+1 != expectedSeq {
		return errors.ApplyMismatch(s.latest+1, expectedSeq)
	}
	s.applyLocked(records)
	s.log = append(s.log, loggedBatch{firstSeq: expectedSeq, count: len(records), payload: payload})
	s.latest += uint64(len(records))
	return nil
}

func (s *MemStore) applyLocked(records []model.Record) {
	for _, rec := range records {
		switch rec.Op {
		case model.OpPut:
			s.keys.Store(rec.Key, rec.Value)
		case model.OpDelete:
			s.keys.Delete(rec.Key)
		}
	}
}

// Get reads the current value of a key.
func (s *MemStore) Get(key string) ([]byte, bool) {
	return s.keys.Load(key)
}

func (s *MemStore) Close() error {
	return nil
}
