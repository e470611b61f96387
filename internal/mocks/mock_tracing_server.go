package mocks

import (
	"context"
	"net"
	"sync"

	otlpcollector "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
)

// TracingServer is an OTLP trace collector recording the names of the
// exported spans.
type TracingServer struct {
	otlpcollector.UnimplementedTraceServiceServer

	server *grpc.Server
	addr   string

	mu    sync.Mutex
	spans []string
}

var _ otlpcollector.TraceServiceServer = (*TracingServer)(nil)

func (s *TracingServer) Export(_ context.Context, req *otlpcollector.ExportTraceServiceRequest) (*otlpcollector.ExportTraceServiceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range req.GetResourceSpans() {
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				s.spans = append(s.spans, span.GetName())
			}
		}
	}
	return &otlpcollector.ExportTraceServiceResponse{}, nil
}

// NewMockTracingServer starts a collector on a random local port.
func NewMockTracingServer() (*TracingServer, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &TracingServer{server: grpc.NewServer(), addr: lis.Addr().String()}
	otlpcollector.RegisterTraceServiceServer(s.server, s)
	go func() {
		_ = s.server.Serve(lis)
	}()
	return s, nil
}

// Addr is the host:port the collector listens on.
func (s *TracingServer) Addr() string {
	return s.addr
}

// SpanNames returns the names of every span exported so far.
func (s *TracingServer) SpanNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spans...)
}

func (s *TracingServer) Stop() {
	s.server.Stop()
}
