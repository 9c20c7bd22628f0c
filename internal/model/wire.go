package model

// PullStatus is the outcome carried in a pull response.
type PullStatus string

const (
	PullStatusOK                PullStatus = "OK"
	PullStatusDBNotFound        PullStatus = "DB_NOT_FOUND"
	PullStatusWaitingOnUpstream PullStatus = "WAITING_ON_UPSTREAM"
	PullStatusServerError       PullStatus = "SERVER_ERROR"
)

// Update is one replicated batch on the wire. Seq is the sequence number of
// the first record in the payload.
type Update struct {
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
}

// PullRequest asks an upstream for the ordered updates starting at FromSeq.
// IncludeAckSeq piggybacks the caller's latest applied sequence so mode-2
// leaders can resolve blocked writes.
type PullRequest struct {
	DBName        string `json:"db_name"`
	FromSeq       uint64 `json:"from_seq"`
	MaxWaitMs     uint32 `json:"max_wait_ms"`
	IncludeAckSeq uint64 `json:"include_ack_seq"`
	PeerRole      string `json:"peer_role"`
}

// PullResponse carries zero or more updates strictly in sequence order.
// NextSeq is the sequence immediately after the last returned record.
type PullResponse struct {
	Status     PullStatus `json:"status"`
	Batches    []Update   `json:"batches,omitempty"`
	NextSeq    uint64     `json:"next_seq"`
	ServerRole string     `json:"server_role"`
}
