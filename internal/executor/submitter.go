package executor

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/aristath/arduino-trader/internal/endpointpool"
)

// Submitter sends a fully-signed transaction and returns its signature.
type Submitter interface {
	SubmitRaw(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// RPCSubmitter submits through the active RPC endpoint in pool, reporting
// success/failure back to the pool the same way every other RPC caller in
// the engine does (spec §4.1: "every outbound call reports success or
// failure to its pool").
type RPCSubmitter struct {
	pool *endpointpool.Pool
}

// NewRPCSubmitter wraps an EndpointPool of RPC endpoints.
func NewRPCSubmitter(pool *endpointpool.Pool) *RPCSubmitter {
	return &RPCSubmitter{pool: pool}
}

func (s *RPCSubmitter) SubmitRaw(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ep := s.pool.Active()
	if ep == nil {
		return solana.Signature{}, fmt.Errorf("executor: no RPC endpoint available")
	}

	client := rpc.New(ep.URL)
	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		s.pool.ReportFailure(ep.URL)
		return solana.Signature{}, fmt.Errorf("executor: submit transaction via %s: %w", ep.Label, err)
	}
	s.pool.ReportSuccess(ep.URL)
	return sig, nil
}
