package model

import "github.com/fxamacker/cbor/v2"

// OpType identifies a single operation within a batch.
type OpType uint8

const (
	OpPut OpType = iota
	OpDelete
)

// Record is one key/value operation inside a batch.
type Record struct {
	Op    OpType `cbor:"1,keyasint"`
	Key   string `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint,omitempty"`
}

// Batch is an ordered group of records committed together. Every record
// consumes one sequence number; the batch itself is addressed by the
// sequence of its first record.
type Batch struct {
	Records []Record
}

// Put appends a put operation to the batch.
func (b *Batch) Put(key string, value []byte) {
	b.Records = append(b.Records, Record{Op: OpPut, Key: key, Value: value})
}

// Delete appends a delete operation to the batch.
func (b *Batch) Delete(key string) {
	b.Records = append(b.Records, Record{Op: OpDelete, Key: key})
}

// Count returns the number of operations in the batch.
func (b *Batch) Count() int {
	return len(b.Records)
}

// EncodeRecords serializes records into the opaque payload carried by the
// pull protocol.
func EncodeRecords(records []Record) ([]byte, error) {
	return cbor.Marshal(records)
}

// DecodeRecords deserializes a payload produced by EncodeRecords.
func DecodeRecords(payload []byte) ([]Record, error) {
	var records []Record
	if err := cbor.Unmarshal(payload, &records); err != nil {
		return nil, err
	}
	return records, nil
}
