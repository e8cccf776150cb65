// Package client implements the text-line client protocol that fronts
// a Raft node: one TCP connection per client, "GET key" / "SET key
// value" requests, replies with the fixed wire codes the cluster's
// operators and the bundled CLI both understand.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ardalan-k/raftkv/kvstore"
	"github.com/ardalan-k/raftkv/raft"
)

// defaultOperationTimeout bounds how long a GET/SET waits on its
// OperationResponseFuture before replying NotLeader, so a client never
// hangs forever against a node that loses its lease or leadership
// mid-request.
const defaultOperationTimeout = 5 * time.Second

// Server dispatches the client-facing text protocol against a Raft
// node's Read/Write surface.
type Server struct {
	node    *raft.Raft
	timeout time.Duration
	logger  raft.Logger

	listener net.Listener
}

// New returns a Server fronting node. Pass nil for logger to discard
// log output.
func New(node *raft.Raft, logger raft.Logger) *Server {
	return &Server{node: node, timeout: defaultOperationTimeout, logger: logger}
}

// Stop closes the listener, ending Start's accept loop. Safe to call
// even if Start was never called.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Start listens on address and serves client connections until the
// listener is closed (typically via Stop).
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("client: listen on %s: %w", address, err)
	}
	s.listener = ln
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("client: accept: %w", err)
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "GET":
			if len(fields) != 2 {
				fmt.Fprintln(conn, "2")
				continue
			}
			s.handleGet(conn, fields[1])

		case "SET":
			if len(fields) < 3 {
				fmt.Fprintln(conn, "2")
				continue
			}
			key := fields[1]
			value := strings.Join(fields[2:], " ")
			s.handleSet(conn, key, value)

		default:
			fmt.Fprintln(conn, "2")
		}
	}
}

func (s *Server) handleGet(conn net.Conn, key string) {
	future := s.node.Read([]byte("GET " + key))
	response, err := future.Await(s.timeout)
	if err != nil {
		s.replyNotLeader(conn, err)
		return
	}

	result, ok := response.Response.(kvstore.Result)
	if !ok || !result.Found {
		fmt.Fprintln(conn, "2")
		return
	}
	fmt.Fprintf(conn, "1 %s\n", result.Value)
}

func (s *Server) handleSet(conn net.Conn, key, value string) {
	future := s.node.Write([]byte("SET " + key + " " + value))
	response, err := future.Await(s.timeout)
	if err != nil {
		s.replyNotLeader(conn, err)
		return
	}

	result, ok := response.Response.(kvstore.Result)
	if !ok {
		fmt.Fprintln(conn, "2")
		return
	}
	fmt.Fprintf(conn, "1 %s\n", result.Value)
}

func (s *Server) replyNotLeader(conn net.Conn, err error) {
	knownLeader := ""
	if notLeader, ok := err.(raft.NotLeaderError); ok {
		knownLeader = notLeader.KnownLeader
	} else if s.logger != nil {
		s.logger.Debugf("operation did not complete: error = %v", err)
	}
	if knownLeader == "" {
		fmt.Fprintln(conn, "0 none")
		return
	}
	fmt.Fprintf(conn, "0 %s\n", knownLeader)
}
