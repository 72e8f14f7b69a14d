// internal/chain/memory.go
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is a fact embedded in a block.
type Record struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	FactHash  string                 `json:"fact_hash"`
	Timestamp time.Time              `json:"timestamp"`
}

// Block is one link of the simulated chain. Hash covers the full block
// content including PreviousHash, so edits to any historical block break the
// linkage of its successor.
type Block struct {
	Index        int64     `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Records      []Record  `json:"records"`
	PreviousHash string    `json:"previous_hash"`
	Nonce        int64     `json:"nonce"`
	Hash         string    `json:"hash"`
}

// MemoryLedger is the single-process simulated chain: an append-only,
// hash-linked block log. It is not a consensus chain; it exists to give the
// platform a local tamper-evident audit trail.
type MemoryLedger struct {
	mu     sync.Mutex
	blocks []Block
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append wraps the fact into a new block linked to the current tip. Block
// creation is serialized under the ledger mutex so PreviousHash linkage is
// never corrupted by interleaved appends.
func (l *MemoryLedger) Append(ctx context.Context, fact Fact) (*Attestation, error) {
	factHash, err := HashFact(fact)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	record := Record{
		Type:      fact.Type,
		Payload:   fact.Payload,
		FactHash:  factHash,
		Timestamp: now,
	}

	previousHash := genesisHash
	if n := len(l.blocks); n > 0 {
		previousHash = l.blocks[n-1].Hash
	}

	block := Block{
		Index:        int64(len(l.blocks)),
		Timestamp:    now,
		Records:      []Record{record},
		PreviousHash: previousHash,
		Nonce:        rand.Int63(), // decorative, not proof-of-work
	}

	hash, err := computeBlockHash(block)
	if err != nil {
		return nil, err
	}
	block.Hash = hash

	l.blocks = append(l.blocks, block)

	return &Attestation{
		TxHash:      factHash,
		BlockNumber: block.Index,
		BlockHash:   block.Hash,
	}, nil
}

// Verify scans blocks from the tip backward for a record matching factHash.
// Attestation reads are typically recent, so most-recent-first wins; the
// chain is a local audit trail, not an indexed store.
func (l *MemoryLedger) Verify(ctx context.Context, factHash string) (*Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.blocks) - 1; i >= 0; i-- {
		block := l.blocks[i]
		for _, record := range block.Records {
			if record.FactHash == factHash {
				ts := record.Timestamp
				return &Verification{
					Verified:    true,
					BlockNumber: block.Index,
					BlockHash:   block.Hash,
					Timestamp:   &ts,
				}, nil
			}
		}
	}

	return &Verification{Verified: false}, nil
}

// Audit re-walks the whole chain recomputing every block hash and checking
// previous-hash linkage. Any tampering with a historical block surfaces here.
func (l *MemoryLedger) Audit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	previousHash := genesisHash
	for i, block := range l.blocks {
		expected, err := computeBlockHash(block)
		if err != nil {
			return err
		}
		if block.Hash != expected {
			return fmt.Errorf("block %d hash mismatch: stored %s, computed %s", i, block.Hash, expected)
		}
		if block.PreviousHash != previousHash {
			return fmt.Errorf("block %d previous hash broken: stored %s, expected %s", i, block.PreviousHash, previousHash)
		}
		previousHash = block.Hash
	}

	return nil
}

// Length returns the number of blocks in the chain.
func (l *MemoryLedger) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// Blocks returns a copy of the chain for inspection.
func (l *MemoryLedger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	blocks := make([]Block, len(l.blocks))
	copy(blocks, l.blocks)
	return blocks
}

func computeBlockHash(block Block) (string, error) {
	// Hash is computed over the block with its own hash field cleared.
	block.Hash = ""
	data, err := json.Marshal(block)
	if err != nil {
		return "", fmt.Errorf("failed to serialize block: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
