// Package bidding is the boundary to the external network client. The
// engine packages bid parameters and final proofs; negotiating price and
// submitting over the wire happens outside this module.
package bidding

import (
	"context"
	"fmt"

	"shardprover/internal/types"
)

// Params carries everything the external client needs to bid and submit.
// The engine passes them through untouched.
type Params struct {
	// RPCEndpoint is the network node URL.
	RPCEndpoint string
	// SigningKey is opaque key material for submission signatures.
	SigningKey string
	// Throughput is the committed proving rate in cycles/second,
	// normally a calibration output.
	Throughput float64
	// BidPrice is the per-cycle price to bid.
	BidPrice float64
	// ProverID identifies this prover on the network.
	ProverID string
}

// Validate checks the parameters are complete enough to hand off.
func (p Params) Validate() error {
	if p.RPCEndpoint == "" {
		return fmt.Errorf("rpc endpoint is required")
	}
	if p.SigningKey == "" {
		return fmt.Errorf("signing key is required")
	}
	if p.Throughput <= 0 {
		return fmt.Errorf("throughput must be positive, got %f", p.Throughput)
	}
	if p.BidPrice <= 0 {
		return fmt.Errorf("bid price must be positive, got %f", p.BidPrice)
	}
	if p.ProverID == "" {
		return fmt.Errorf("prover id is required")
	}
	return nil
}

// Client is implemented by the external bidding/network layer.
type Client interface {
	// Bid places a bid for a request under the given parameters.
	Bid(ctx context.Context, params Params, requestID string) error
	// Submit delivers a finished proof for an accepted bid.
	Submit(ctx context.Context, params Params, proof *types.FinalProof) error
}
