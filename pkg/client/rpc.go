package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stakeops/warden/pkg/types"
)

// DefaultTrustOffset is how far below the latest height the state-sync
// trust anchor sits when the node config does not say otherwise.
const DefaultTrustOffset = 2000

// NodeStatus is the parsed subset of a CometBFT /status response
type NodeStatus struct {
	Height           int64
	CatchingUp       bool
	ValidatorAddress string
}

// TrustAnchor is a verified (height, hash) pair for state sync
type TrustAnchor struct {
	Height int64  `json:"trust_height"`
	Hash   string `json:"trust_hash"`
}

// RPC queries a chain node's CometBFT RPC endpoint
type RPC struct {
	http *resty.Client
}

// NewRPC creates an RPC client with the given per-request timeout
func NewRPC(timeout time.Duration) *RPC {
	return &RPC{
		http: resty.New().SetTimeout(timeout),
	}
}

// Status fetches and parses {rpc}/status
func (r *RPC) Status(ctx context.Context, rpcURL string) (*NodeStatus, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		Get(strings.TrimSuffix(rpcURL, "/") + "/status")
	if err != nil {
		return nil, fmt.Errorf("rpc status failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rpc status returned %d", resp.StatusCode())
	}
	return parseStatus(resp.Body())
}

// BlockHash fetches the block hash at the given height
func (r *RPC) BlockHash(ctx context.Context, rpcURL string, height int64) (string, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParam("height", strconv.FormatInt(height, 10)).
		Get(strings.TrimSuffix(rpcURL, "/") + "/block")
	if err != nil {
		return "", fmt.Errorf("rpc block failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("rpc block returned %d", resp.StatusCode())
	}
	return parseBlockHash(resp.Body())
}

// ResolveTrustAnchor computes the state-sync trust anchor from the
// first reachable RPC server: latest height minus the offset, plus the
// block hash at that height.
func (r *RPC) ResolveTrustAnchor(ctx context.Context, rpcServers []string, offset int64) (*TrustAnchor, error) {
	if offset <= 0 {
		offset = DefaultTrustOffset
	}

	var lastErr error
	for _, server := range rpcServers {
		status, err := r.Status(ctx, server)
		if err != nil {
			lastErr = err
			continue
		}

		height := status.Height - offset
		if height < 1 {
			height = 1
		}
		hash, err := r.BlockHash(ctx, server, height)
		if err != nil {
			lastErr = err
			continue
		}
		return &TrustAnchor{Height: height, Hash: hash}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no rpc servers configured: %w", types.ErrConfigInvalid)
	}
	return nil, fmt.Errorf("trust anchor resolution failed: %w", lastErr)
}

// parseStatus tolerates both the raw CometBFT response and responses
// already unwrapped from the jsonrpc envelope.
func parseStatus(body []byte) (*NodeStatus, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	payload := body
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Result) > 0 {
		payload = envelope.Result
	}

	var parsed struct {
		SyncInfo struct {
			LatestBlockHeight string `json:"latest_block_height"`
			CatchingUp        bool   `json:"catching_up"`
		} `json:"sync_info"`
		ValidatorInfo struct {
			Address string `json:"address"`
		} `json:"validator_info"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("rpc status parse failed: %w", err)
	}
	if parsed.SyncInfo.LatestBlockHeight == "" {
		return nil, fmt.Errorf("rpc status missing sync_info")
	}

	height, err := strconv.ParseInt(parsed.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("rpc status bad height %q: %w", parsed.SyncInfo.LatestBlockHeight, err)
	}

	return &NodeStatus{
		Height:           height,
		CatchingUp:       parsed.SyncInfo.CatchingUp,
		ValidatorAddress: parsed.ValidatorInfo.Address,
	}, nil
}

func parseBlockHash(body []byte) (string, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	payload := body
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Result) > 0 {
		payload = envelope.Result
	}

	var parsed struct {
		BlockID struct {
			Hash string `json:"hash"`
		} `json:"block_id"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("rpc block parse failed: %w", err)
	}
	if parsed.BlockID.Hash == "" {
		return "", fmt.Errorf("rpc block missing block_id.hash")
	}
	return parsed.BlockID.Hash, nil
}
