// internal/chain/chain.go
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the chain backend cannot record or look up
// a fact. Callers treat it as non-fatal: a missing attestation never blocks
// the operation that requested it.
var ErrUnavailable = errors.New("attestation chain unavailable")

// Fact is an arbitrary event worth a tamper-evident record: a product
// listing, a purchase, a payment proof, a delivery confirmation.
type Fact struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Attestation is the receipt for an appended fact.
type Attestation struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	BlockHash   string `json:"block_hash"`
}

// Verification is the result of a fact lookup by hash.
type Verification struct {
	Verified    bool       `json:"verified"`
	BlockNumber int64      `json:"block_number,omitempty"`
	BlockHash   string     `json:"block_hash,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Ledger is the append-only attestation log. Two backends implement it: the
// in-process simulated chain and a remote chain node client. Callers never
// know which one is active.
type Ledger interface {
	Append(ctx context.Context, fact Fact) (*Attestation, error)
	Verify(ctx context.Context, factHash string) (*Verification, error)
}

// HashFact computes the deterministic content digest of a fact. JSON
// marshaling sorts map keys, so equal facts always digest to the same hash.
func HashFact(fact Fact) (string, error) {
	data, err := json.Marshal(fact)
	if err != nil {
		return "", fmt.Errorf("failed to serialize fact: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
