package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/internal/search"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// Tasks 2 and 3 cannot overlap on the single resource: optimum is 5.
const smallInstance = `4 1 4 8
2
0 0 0 2 3
3 1 0 4
2 2 0 4
0 0 0
`

// startServer runs s on an in-memory listener and returns a client connection.
func startServer(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, lis, s) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return conn
}

func parse(t *testing.T) *instance.Problem {
	t.Helper()
	p, err := instance.Parse("small.data", strings.NewReader(smallInstance))
	require.NoError(t, err)
	return p
}

func TestRemoteDecide(t *testing.T) {
	srv := NewServer(oracle.NewEngine(), time.Minute)
	remote := oracle.NewGRPCOracle(startServer(t, srv))
	p := parse(t)

	d, err := remote.Decide(context.Background(), p, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictFeasible, d.Verdict)
	assert.NoError(t, oracle.Verify(p, d.Starts, 5))

	d, err = remote.Decide(context.Background(), p, 4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictInfeasible, d.Verdict)

	stats := srv.Stats()
	assert.Equal(t, int64(1), stats.Verdicts[types.VerdictFeasible])
	assert.Equal(t, int64(1), stats.Verdicts[types.VerdictInfeasible])
	assert.Equal(t, 0, stats.InFlight)
}

func TestRemoteSearch(t *testing.T) {
	remote := oracle.NewGRPCOracle(startServer(t, NewServer(oracle.NewEngine(), 0)))
	p := parse(t)
	rng, ok := p.Bounds()
	require.True(t, ok)

	tr, err := search.NewDriver(remote, 10*time.Second).Search(context.Background(), p, &rng)
	require.NoError(t, err)

	out := search.Classify(tr)
	assert.Equal(t, search.KindFeasible, out.Kind)
	assert.Equal(t, 5, *out.Makespan)
}

func TestServerCapsBudget(t *testing.T) {
	got := make(chan time.Duration, 1)
	o := oracle.Func(func(_ context.Context, _ *instance.Problem, _ int, budget time.Duration) (oracle.Decision, error) {
		got <- budget
		return oracle.Decision{Verdict: types.VerdictTimedOut}, nil
	})

	remote := oracle.NewGRPCOracle(startServer(t, NewServer(o, 2*time.Second)))
	d, err := remote.Decide(context.Background(), parse(t), 5, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, types.VerdictTimedOut, d.Verdict)
	assert.Equal(t, 2*time.Second, <-got)
}

func TestServerRejectsBadRequest(t *testing.T) {
	conn := startServer(t, NewServer(oracle.NewEngine(), 0))

	req, err := structpb.NewStruct(map[string]interface{}{"bound": 3})
	require.NoError(t, err)

	err = conn.Invoke(context.Background(), oracle.DecideMethod, req, new(structpb.Struct))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerHealth(t *testing.T) {
	conn := startServer(t, NewServer(oracle.NewEngine(), 0))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: oracle.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
