// Package transport implements raft.Transport over gRPC. Every message
// the raft package defines (VoteRequest, LogRequest, Forward, and their
// responses) is carried as an opaque, protowire-encoded frame through a
// single bidirectional-free unary RPC, since no protoc run is available
// to generate a conventional .pb.go/._grpc.pb.go pair in this
// environment; see DESIGN.md for the rationale.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ardalan-k/raftkv/raft"
)

const dialTimeout = 5 * time.Second

// peerServer is the interface the hand-rolled service descriptor below
// dispatches unary calls against. Anything implementing it can back the
// "raftkv.transport.Peer/Call" method.
type peerServer interface {
	call(ctx context.Context, in *rawFrame) (*rawFrame, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raftkv.transport.Peer",
	HandlerType: (*peerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Metadata: "internal/transport/transport.go",
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rawFrame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/raftkv.transport.Peer/Call"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).call(ctx, req.(*rawFrame))
	}
	return interceptor(ctx, in, info, handler)
}

// Transport is a gRPC-backed implementation of raft.Transport. A single
// Transport both serves incoming RPCs from peers and dials out to them;
// the address it listens on is fixed at construction.
type Transport struct {
	address string
	server  *grpc.Server

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	voteHandler func(*raft.VoteRequest) (*raft.VoteResponse, error)
	logHandler  func(*raft.LogRequest) (*raft.LogResponse, error)
	fwdHandler  func(*raft.Forward) error
}

// New creates a Transport that will listen on address once Run is
// called. It implements raft.Transport and is meant to be passed to
// raft.WithTransport.
func New(address string) *Transport {
	return &Transport{
		address: address,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (t *Transport) Address() string { return t.address }

func (t *Transport) RegisterVoteRequestHandler(h func(*raft.VoteRequest) (*raft.VoteResponse, error)) {
	t.voteHandler = h
}

func (t *Transport) RegisterLogRequestHandler(h func(*raft.LogRequest) (*raft.LogResponse, error)) {
	t.logHandler = h
}

func (t *Transport) RegisterForwardHandler(h func(*raft.Forward) error) {
	t.fwdHandler = h
}

// Connect dials a peer ahead of time so the first real RPC to it
// doesn't pay connection setup latency. Idempotent.
func (t *Transport) Connect(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[address]; ok {
		return nil
	}
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", address, err)
	}
	t.conns[address] = conn
	return nil
}

// Close tears down the connection to a peer, if any.
func (t *Transport) Close(address string) error {
	t.mu.Lock()
	conn, ok := t.conns[address]
	delete(t.conns, address)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

func (t *Transport) connFor(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	conn, ok := t.conns[address]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}
	if err := t.Connect(address); err != nil {
		return nil, raft.ErrUnreachable{Address: address}
	}
	t.mu.Lock()
	conn = t.conns[address]
	t.mu.Unlock()
	return conn, nil
}

// Run starts serving incoming peer RPCs. It blocks until Shutdown is
// called.
func (t *Transport) Run() error {
	lis, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", t.address, err)
	}
	t.server = grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	t.server.RegisterService(&serviceDesc, t)
	return t.server.Serve(lis)
}

// Shutdown stops serving. Safe to call even if Run was never called or
// has already returned.
func (t *Transport) Shutdown() {
	if t.server != nil {
		t.server.GracefulStop()
	}
}

func (t *Transport) call(ctx context.Context, in *rawFrame) (*rawFrame, error) {
	k, payload, err := unframe(*in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	switch k {
	case kindVoteRequest:
		req, err := decodeVoteRequest(payload)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if t.voteHandler == nil {
			return nil, status.Error(codes.Unavailable, "no vote request handler registered")
		}
		resp, err := t.voteHandler(req)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out := rawFrame(frame(kindVoteResponse, encodeVoteResponse(resp)))
		return &out, nil

	case kindLogRequest:
		req, err := decodeLogRequest(payload)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if t.logHandler == nil {
			return nil, status.Error(codes.Unavailable, "no log request handler registered")
		}
		resp, err := t.logHandler(req)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out := rawFrame(frame(kindLogResponse, encodeLogResponse(resp)))
		return &out, nil

	case kindForward:
		f, err := decodeForward(payload)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if t.fwdHandler == nil {
			return nil, status.Error(codes.Unavailable, "no forward handler registered")
		}
		if err := t.fwdHandler(f); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out := rawFrame(frame(kindForward, nil))
		return &out, nil

	default:
		return nil, status.Error(codes.InvalidArgument, errUnknownKind.Error())
	}
}

// SendVoteRequest delivers a VoteRequest to the peer at address and
// waits for its VoteResponse.
func (t *Transport) SendVoteRequest(address string, request *raft.VoteRequest) (*raft.VoteResponse, error) {
	conn, err := t.connFor(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	in := rawFrame(frame(kindVoteRequest, encodeVoteRequest(request)))
	out := new(rawFrame)
	if err := conn.Invoke(ctx, "/raftkv.transport.Peer/Call", &in, out, grpc.ForceCodec(rawCodec{})); err != nil {
		return nil, raft.ErrUnreachable{Address: address}
	}
	_, payload, err := unframe(*out)
	if err != nil {
		return nil, err
	}
	return decodeVoteResponse(payload)
}

// SendLogRequest delivers a LogRequest to the peer at address and waits
// for its LogResponse.
func (t *Transport) SendLogRequest(address string, request *raft.LogRequest) (*raft.LogResponse, error) {
	conn, err := t.connFor(address)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	in := rawFrame(frame(kindLogRequest, encodeLogRequest(request)))
	out := new(rawFrame)
	if err := conn.Invoke(ctx, "/raftkv.transport.Peer/Call", &in, out, grpc.ForceCodec(rawCodec{})); err != nil {
		return nil, raft.ErrUnreachable{Address: address}
	}
	_, payload, err := unframe(*out)
	if err != nil {
		return nil, err
	}
	return decodeLogResponse(payload)
}

// SendForward relays a client write a follower could not service itself
// to the peer at address.
func (t *Transport) SendForward(address string, fwd *raft.Forward) error {
	conn, err := t.connFor(address)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	in := rawFrame(frame(kindForward, encodeForward(fwd)))
	out := new(rawFrame)
	if err := conn.Invoke(ctx, "/raftkv.transport.Peer/Call", &in, out, grpc.ForceCodec(rawCodec{})); err != nil {
		return raft.ErrUnreachable{Address: address}
	}
	return nil
}
