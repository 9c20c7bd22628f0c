// Package storage defines the boundary between the replicator and the
// embedded storage engine. The replicator only needs an ordered batch log
// with a monotonic per-database sequence number; everything else about the
// engine stays behind this interface.
package storage

import "github.com/devrev/replicator/internal/model"

// Adapter is a per-database handle onto the storage engine.
//
// Sequence numbers start at 1 and every record in a batch consumes one, so
// a batch of two puts advances the latest sequence by two. A batch is
// addressed by the sequence of its first record.
type Adapter interface {
	// Write commits the batch locally and returns the sequence number of
	// its last record.
	Write(batch *model.Batch) (uint64, error)

	// LatestSeq returns the sequence number of the most recent record.
	LatestSeq() uint64

	// UpdatesSince returns up to maxBatches committed batches starting at
	// seq, which must be the first sequence of a batch (or past the end).
	// nextSeq is the sequence immediately after the last returned record;
	// it equals seq when nothing is available.
	UpdatesSince(seq uint64, maxBatches int) (updates []model.Update, nextSeq uint64, err error)

	// Apply commits a batch received from an upstream. expectedSeq must be
	// exactly LatestSeq()+1 or the apply is rejected.
	Apply(payload []byte, expectedSeq uint64) error

	// Get reads the current value of a key.
	Get(key string) ([]byte, bool)

	Close() error
}
