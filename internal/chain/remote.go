// internal/chain/remote.go
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RemoteLedger talks to an external chain node over HTTP. It satisfies the
// same contract as the in-process simulation: append submits a transaction
// and returns the node's real transaction hash and block number.
type RemoteLedger struct {
	nodeURL string
	apiKey  string
	client  *http.Client
}

func NewRemoteLedger(nodeURL, apiKey string, timeout time.Duration) *RemoteLedger {
	return &RemoteLedger{
		nodeURL: nodeURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteAppendRequest struct {
	Type     string                 `json:"type"`
	Payload  map[string]interface{} `json:"payload"`
	FactHash string                 `json:"fact_hash"`
}

type remoteAppendResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	BlockHash   string `json:"block_hash"`
}

func (l *RemoteLedger) Append(ctx context.Context, fact Fact) (*Attestation, error) {
	factHash, err := HashFact(fact)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(remoteAppendRequest{
		Type:     fact.Type,
		Payload:  fact.Payload,
		FactHash: factHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize fact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.nodeURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: node returned %d", ErrUnavailable, resp.StatusCode)
	}

	var result remoteAppendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"tx_hash":      result.TxHash,
		"block_number": result.BlockNumber,
	}).Debug("Fact submitted to remote chain")

	return &Attestation{
		TxHash:      result.TxHash,
		BlockNumber: result.BlockNumber,
		BlockHash:   result.BlockHash,
	}, nil
}

type remoteVerifyResponse struct {
	Verified    bool       `json:"verified"`
	BlockNumber int64      `json:"block_number"`
	BlockHash   string     `json:"block_hash"`
	Timestamp   *time.Time `json:"timestamp"`
}

func (l *RemoteLedger) Verify(ctx context.Context, factHash string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.nodeURL+"/transactions/"+factHash, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Verification{Verified: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: node returned %d", ErrUnavailable, resp.StatusCode)
	}

	var result remoteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Verification{
		Verified:    result.Verified,
		BlockNumber: result.BlockNumber,
		BlockHash:   result.BlockHash,
		Timestamp:   result.Timestamp,
	}, nil
}
