package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type target struct {
	ready atomic.Bool
	err   error
}

func (t *target) IsReady(context.Context) (bool, error) {
	return t.ready.Load(), t.err
}

func newTarget(ready bool, err error) *target {
	t := &target{err: err}
	t.ready.Store(ready)
	return t
}

func TestCheck(t *testing.T) {
	for _, tc := range []struct {
		name     string
		target   *target
		service  string
		expected healthv1pb.HealthCheckResponse_ServingStatus
		err      bool
	}{
		{name: "ready", target: newTarget(true, nil), expected: healthv1pb.HealthCheckResponse_SERVING},
		{name: "ready_named", target: newTarget(true, nil), service: ServiceName, expected: healthv1pb.HealthCheckResponse_SERVING},
		{name: "not_ready", target: newTarget(false, nil), expected: healthv1pb.HealthCheckResponse_NOT_SERVING},
		{name: "error", target: newTarget(false, errors.New("closed")), expected: healthv1pb.HealthCheckResponse_NOT_SERVING, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			checker := &Checker{TargetService: tc.target, TargetServiceName: ServiceName}
			res, err := checker.Check(context.Background(), &healthv1pb.HealthCheckRequest{Service: tc.service})
			if tc.err {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.expected, res.GetStatus())
		})
	}
}

func TestCheckUnknownService(t *testing.T) {
	checker := &Checker{TargetService: newTarget(true, nil), TargetServiceName: ServiceName}
	_, err := checker.Check(context.Background(), &healthv1pb.HealthCheckRequest{Service: "other"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func dial(t *testing.T, checker *Checker) healthv1pb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	healthv1pb.RegisterHealthServer(srv, checker)
	go func() {
		_ = srv.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return healthv1pb.NewHealthClient(conn)
}

func TestWatch(t *testing.T) {
	tgt := newTarget(false, nil)
	client := dial(t, &Checker{TargetService: tgt, TargetServiceName: ServiceName, WatchInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, &healthv1pb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)

	res, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthv1pb.HealthCheckResponse_NOT_SERVING, res.GetStatus())

	tgt.ready.Store(true)
	res, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthv1pb.HealthCheckResponse_SERVING, res.GetStatus())

	cancel()
	_, err = stream.Recv()
	require.Equal(t, codes.Canceled, status.Code(err))
}

func TestWatchUnknownService(t *testing.T) {
	client := dial(t, &Checker{TargetService: newTarget(true, nil), TargetServiceName: ServiceName})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, &healthv1pb.HealthCheckRequest{Service: "other"})
	require.NoError(t, err)

	res, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthv1pb.HealthCheckResponse_SERVICE_UNKNOWN, res.GetStatus())
}
