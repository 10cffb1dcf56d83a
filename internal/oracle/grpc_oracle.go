package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// rpcSlack is added to the call budget to cover transport latency.
const rpcSlack = 5 * time.Second

// GRPCOracle is an Oracle backed by a remote `rcpsp serve` node.
// The server's Engine warm-starts by problem name and content across calls.
// GRPCOracle has no Forget, so server entries are only dropped when its
// bounded cache resets.
type GRPCOracle struct {
	conn grpc.ClientConnInterface
}

// NewGRPCOracle creates a GRPCOracle.
// conn should be an established gRPC connection.
func NewGRPCOracle(conn grpc.ClientConnInterface) *GRPCOracle {
	return &GRPCOracle{conn: conn}
}

// Decide forwards the call to the remote engine.
func (o *GRPCOracle) Decide(ctx context.Context, p *instance.Problem, bound int, budget time.Duration) (Decision, error) {
	req, err := EncodeRequest(p, bound, budget)
	if err != nil {
		return Decision{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, budget+rpcSlack)
	defer cancel()

	resp := new(structpb.Struct)
	if err := o.conn.Invoke(callCtx, DecideMethod, req, resp); err != nil {
		return Decision{}, fmt.Errorf("rpc decide failed: %w", err)
	}
	return DecodeDecision(resp)
}
