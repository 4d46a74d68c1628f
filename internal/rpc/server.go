package rpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/fedvault/node/internal/log"
)

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// Server is the internal control-surface listener, grounded on
// net/control.go's ControlListener.
type Server struct {
	grpcServer *grpc.Server
	lis        net.Listener
	log        log.Logger
}

// NewServer builds a Server bound to "localhost:port", the same loopback
// scoping NewTCPGrpcControlListener uses.
func NewServer(node Dispatcher, port string, l log.Logger) (*Server, error) {
	addr := fmt.Sprintf("localhost:%s", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listening on %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(gobCodec{}))
	grpcServer.RegisterService(&_Control_serviceDesc, &server{node: node})
	return &Server{grpcServer: grpcServer, lis: lis, log: l}, nil
}

// Serve blocks, accepting and servicing connections until Stop is called.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.lis)
}

// Stop shuts the listener and every open connection down immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// Addr returns the address the server actually bound to (useful when port
// "0" was requested).
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}
