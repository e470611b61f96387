// Package health serves the gRPC health protocol for the wro server. The
// bundle service is SERVING once the first model has been loaded.
package health

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the name clients may pass to check the bundle service.
const ServiceName = "wro.BundleService"

// DefaultWatchInterval is how often Watch polls readiness.
const DefaultWatchInterval = time.Second

// TargetService reports whether bundles can be served.
type TargetService interface {
	IsReady(ctx context.Context) (bool, error)
}

type Checker struct {
	healthv1pb.UnimplementedHealthServer
	TargetService
	TargetServiceName string

	// WatchInterval defaults to DefaultWatchInterval.
	WatchInterval time.Duration
}

func (o *Checker) known(service string) bool {
	return service == "" || service == o.TargetServiceName
}

func (o *Checker) status(ctx context.Context) (healthv1pb.HealthCheckResponse_ServingStatus, error) {
	ready, err := o.IsReady(ctx)
	if err != nil || !ready {
		return healthv1pb.HealthCheckResponse_NOT_SERVING, err
	}
	return healthv1pb.HealthCheckResponse_SERVING, nil
}

func (o *Checker) Check(ctx context.Context, req *healthv1pb.HealthCheckRequest) (*healthv1pb.HealthCheckResponse, error) {
	if !o.known(req.GetService()) {
		return nil, status.Errorf(codes.NotFound, "service '%s' is not registered with the Health server", req.GetService())
	}
	s, err := o.status(ctx)
	return &healthv1pb.HealthCheckResponse{Status: s}, err
}

// Watch sends the current status, then every change until the client goes
// away. Unknown services get SERVICE_UNKNOWN once, as the protocol requires.
func (o *Checker) Watch(req *healthv1pb.HealthCheckRequest, stream healthv1pb.Health_WatchServer) error {
	ctx := stream.Context()
	if !o.known(req.GetService()) {
		if err := stream.Send(&healthv1pb.HealthCheckResponse{Status: healthv1pb.HealthCheckResponse_SERVICE_UNKNOWN}); err != nil {
			return err
		}
		<-ctx.Done()
		return status.FromContextError(ctx.Err()).Err()
	}

	interval := o.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthv1pb.HealthCheckResponse_UNKNOWN
	for {
		// readiness errors are reported as NOT_SERVING on the stream
		s, _ := o.status(ctx)
		if s != last {
			if err := stream.Send(&healthv1pb.HealthCheckResponse{Status: s}); err != nil {
				return err
			}
			last = s
		}

		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-ticker.C:
		}
	}
}
