// ============================================================================
// Oracle gRPC Server
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Expose a feasibility oracle over gRPC for `rcpsp run --oracle remote`
//
// Service rcpsp.v1.Oracle:
//   rpc Decide(google.protobuf.Struct) returns (google.protobuf.Struct)
//
// Messages are Struct values encoded by internal/oracle/wire.go, so client
// and server share one codec and no generated stubs are needed. The standard
// grpc.health.v1 service is registered next to it.
//
// Budget:
//   The server caps the requested budget at MaxBudget. The engine returns
//   timed_out when the budget runs out; a cancelled client call surfaces as
//   codes.Canceled / codes.DeadlineExceeded.
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = logging.Component("server")

// OracleServer is the server API for the rcpsp.v1.Oracle service.
type OracleServer interface {
	Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes rcpsp.v1.Oracle for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: oracle.ServiceName,
	HandlerType: (*OracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Decide",
			Handler:    decideHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rcpsp/v1/oracle.proto",
}

func decideHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OracleServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: oracle.DecideMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OracleServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements OracleServer on top of a local oracle.
type Server struct {
	oracle    oracle.Oracle
	maxBudget time.Duration

	mu       sync.Mutex
	verdicts map[types.Verdict]int64
	inFlight int
}

// Stats is a snapshot of the server's counters.
type Stats struct {
	Verdicts map[types.Verdict]int64
	InFlight int
}

// NewServer creates a Server. maxBudget <= 0 means no cap.
func NewServer(o oracle.Oracle, maxBudget time.Duration) *Server {
	return &Server{
		oracle:    o,
		maxBudget: maxBudget,
		verdicts:  make(map[types.Verdict]int64),
	}
}

// Decide handles one remote oracle call.
func (s *Server) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := oracle.DecodeRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad decide request: %v", err)
	}

	budget := decoded.Budget
	if s.maxBudget > 0 && budget > s.maxBudget {
		budget = s.maxBudget
	}

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	start := time.Now()
	decision, err := s.oracle.Decide(ctx, decoded.Problem, decoded.Bound, budget)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Internal, "decide failed: %v", err)
	}

	s.mu.Lock()
	s.verdicts[decision.Verdict]++
	s.mu.Unlock()

	log.Info("Decide served",
		"instance", decoded.Problem.Name,
		"bound", decoded.Bound,
		"verdict", decision.Verdict,
		"duration", time.Since(start))

	resp, err := oracle.EncodeDecision(decision)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode decision: %v", err)
	}
	return resp, nil
}

// Stats returns a copy of the counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	verdicts := make(map[types.Verdict]int64, len(s.verdicts))
	for k, v := range s.verdicts {
		verdicts[k] = v
	}
	return Stats{Verdicts: verdicts, InFlight: s.inFlight}
}

// Register adds the oracle and health services to gs.
func Register(gs *grpc.Server, s *Server) *health.Server {
	gs.RegisterService(&ServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(oracle.ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// Serve listens on addr until ctx is done, then drains in-flight calls.
func Serve(ctx context.Context, addr string, s *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, lis, s)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, lis net.Listener, s *Server) error {
	gs := grpc.NewServer()
	hs := Register(gs, s)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		gs.GracefulStop()
	}()

	log.Info("Oracle server listening", "addr", lis.Addr().String())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
