package client

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardalan-k/raftkv/internal/clock"
	"github.com/ardalan-k/raftkv/internal/transport"
	"github.com/ardalan-k/raftkv/kvstore"
	"github.com/ardalan-k/raftkv/raft"
)

// singleNodeCluster starts a lone-member Raft node, which becomes
// Leader on its own as soon as its election timer fires, and waits for
// that promotion before handing the node back.
func singleNodeCluster(t *testing.T) *raft.Raft {
	t.Helper()

	id := "node-0"
	address := "127.0.0.1:0"
	tr := transport.New(address)
	clk := clock.NewVirtual(time.Unix(0, 0))

	node, err := raft.NewRaft(
		id,
		map[string]string{id: address},
		kvstore.New(),
		t.TempDir(),
		raft.WithTransport(tr),
		raft.WithClock(clk),
	)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() { _ = node.Stop() })

	clk.Advance(31 * time.Second)

	require.Eventually(t, func() bool {
		return node.Status().State == raft.Leader
	}, 2*time.Second, time.Millisecond)

	return node
}

var nextClientPort = 19337

func startClientServer(t *testing.T, node *raft.Raft) string {
	t.Helper()
	nextClientPort++
	address := fmt.Sprintf("127.0.0.1:%d", nextClientPort)
	srv := New(node, nil)
	go func() { _ = srv.Start(address) }()
	t.Cleanup(func() { _ = srv.Stop() })
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", address)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, time.Millisecond)
	return address
}

func sendLine(t *testing.T, address, line string) string {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return reply
}

func TestSetThenGetOverClientProtocol(t *testing.T) {
	node := singleNodeCluster(t)
	address := startClientServer(t, node)

	reply := sendLine(t, address, "SET x 1")
	require.Equal(t, "1 1\n", reply)

	reply = sendLine(t, address, "GET x")
	require.Equal(t, "1 1\n", reply)
}

func TestGetMissingKeyReturnsCode2(t *testing.T) {
	node := singleNodeCluster(t)
	address := startClientServer(t, node)

	reply := sendLine(t, address, "GET missing")
	require.Equal(t, "2\n", reply)
}

func TestMalformedCommandReturnsCode2(t *testing.T) {
	node := singleNodeCluster(t)
	address := startClientServer(t, node)

	reply := sendLine(t, address, "SET onlykey")
	require.Equal(t, "2\n", reply)
}
