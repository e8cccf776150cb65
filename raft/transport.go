package raft

// Transport is the peer-to-peer communication channel a Raft node uses
// to reach the other members of its cluster (spec.md §4.2). It is
// best-effort and at-least-once: duplicates and reordering are tolerated
// by the protocol, and a send that cannot complete within a short bound
// fails with ErrUnreachable rather than being retried at this layer.
type Transport interface {
	// Address returns the address this transport listens on.
	Address() string

	// RegisterVoteRequestHandler registers the handler invoked when a
	// VoteRequest is received.
	RegisterVoteRequestHandler(func(*VoteRequest) (*VoteResponse, error))

	// RegisterLogRequestHandler registers the handler invoked when a
	// LogRequest is received.
	RegisterLogRequestHandler(func(*LogRequest) (*LogResponse, error))

	// RegisterForwardHandler registers the handler invoked when a
	// Forward is received.
	RegisterForwardHandler(func(*Forward) error)

	// Connect establishes whatever connection state is needed to reach
	// the peer at address. Implementations that are connectionless may
	// no-op.
	Connect(address string) error

	// Close tears down the connection to the peer at address.
	Close(address string) error

	// Run starts serving incoming RPCs. Blocks until Shutdown is
	// called.
	Run() error

	// Shutdown stops serving incoming RPCs.
	Shutdown()

	// SendVoteRequest sends a VoteRequest to the peer at address.
	SendVoteRequest(address string, request *VoteRequest) (*VoteResponse, error)

	// SendLogRequest sends a LogRequest to the peer at address.
	SendLogRequest(address string, request *LogRequest) (*LogResponse, error)

	// SendForward sends a Forward to the peer at address.
	SendForward(address string, forward *Forward) error
}

// ErrUnreachable is returned by Transport send methods when a peer
// cannot be contacted within the transport's timeout.
type ErrUnreachable struct {
	Address string
}

func (e ErrUnreachable) Error() string {
	return "peer unreachable: address = " + e.Address
}
