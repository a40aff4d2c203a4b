package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"shardprover/internal/bidding"
	"shardprover/internal/types"
)

var (
	proveProgramPath string
	proveInputPath   string
	proveCycles      uint64
	proveDeadline    time.Duration
	proveOutputPath  string

	// Bidding parameters, passed through to the external client.
	proveRPCURL     string
	proveSigningKey string
	proveThroughput float64
	proveBidPrice   float64
	proveProverID   string
)

// proveCmd runs the full pipeline for one request
var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove a program execution across the device pool",
	Long: `Runs the full pipeline for one proof request: execution pre-pass
with checkpoint capture, shard planning, parallel proving, and recursive
combination.

Bidding flags (--rpc-url, --key, --throughput, --bid-price, --prover-id)
are packaged for the external network client and are not interpreted here.`,
	RunE: runProve,
}

func init() {
	proveCmd.Flags().StringVar(&proveProgramPath, "program", "", "path to the program binary (required)")
	proveCmd.Flags().StringVar(&proveInputPath, "input", "", "path to the program input (required)")
	proveCmd.Flags().Uint64Var(&proveCycles, "cycles", 10_000_000, "estimated total cycle count")
	proveCmd.Flags().DurationVar(&proveDeadline, "deadline", 0, "proof deadline from now (0 = none)")
	proveCmd.Flags().StringVarP(&proveOutputPath, "output", "o", "", "write the final proof to this file")

	proveCmd.Flags().StringVar(&proveRPCURL, "rpc-url", "", "network node RPC endpoint")
	proveCmd.Flags().StringVar(&proveSigningKey, "key", "", "submission signing key")
	proveCmd.Flags().Float64Var(&proveThroughput, "throughput", 0, "committed throughput in cycles/second")
	proveCmd.Flags().Float64Var(&proveBidPrice, "bid-price", 0, "bid price per cycle")
	proveCmd.Flags().StringVar(&proveProverID, "prover-id", "", "prover identity on the network")

	_ = proveCmd.MarkFlagRequired("program")
	_ = proveCmd.MarkFlagRequired("input")
}

func runProve(cmd *cobra.Command, args []string) error {
	program, err := os.ReadFile(proveProgramPath)
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}
	input, err := os.ReadFile(proveInputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	// Bid parameters are validated up front so a typo fails before any
	// device time is spent.
	var bidParams *bidding.Params
	if proveRPCURL != "" {
		p := bidding.Params{
			RPCEndpoint: proveRPCURL,
			SigningKey:  proveSigningKey,
			Throughput:  proveThroughput,
			BidPrice:    proveBidPrice,
			ProverID:    proveProverID,
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid bidding parameters: %w", err)
		}
		bidParams = &p
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.close()

	var deadline time.Time
	if proveDeadline > 0 {
		deadline = time.Now().Add(proveDeadline)
	}
	req := types.NewProofRequest(program, input, proveCycles, deadline)

	final, err := eng.orch.Prove(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("Proof complete: request=%s cycles=%d shards=%d elapsed=%s\n",
		final.RequestID, final.TotalCycles, final.ShardCount,
		final.Elapsed.Round(time.Millisecond))
	if proveOutputPath != "" {
		if err := os.WriteFile(proveOutputPath, final.Proof, 0o644); err != nil {
			return fmt.Errorf("failed to write proof: %w", err)
		}
		fmt.Printf("Proof written to %s (%d bytes)\n", proveOutputPath, len(final.Proof))
	}
	if bidParams != nil {
		fmt.Printf("Bidding parameters for %s validated; submission is handled by the external client\n",
			bidParams.RPCEndpoint)
	}
	return nil
}
