package raft_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ardalan-k/raftkv/internal/clock"
	"github.com/ardalan-k/raftkv/kvstore"
	"github.com/ardalan-k/raftkv/raft"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeNetwork wires a set of fakeTransports together in memory, so a
// cluster of Raft nodes can exchange VoteRequests, LogRequests, and
// Forwards without a real listener on either end. Sends are dispatched
// synchronously against the target's registered handler.
type fakeNetwork struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{transports: make(map[string]*fakeTransport)}
}

func (n *fakeNetwork) newTransport(address string) *fakeTransport {
	t := &fakeTransport{
		address: address,
		network: n,
		cut:     make(map[string]bool),
		done:    make(chan struct{}),
	}
	n.mu.Lock()
	n.transports[address] = t
	n.mu.Unlock()
	return t
}

func (n *fakeNetwork) lookup(address string) (*fakeTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[address]
	return t, ok
}

type fakeTransport struct {
	address string
	network *fakeNetwork

	mu           sync.Mutex
	voteHandler  func(*raft.VoteRequest) (*raft.VoteResponse, error)
	logHandler   func(*raft.LogRequest) (*raft.LogResponse, error)
	fwdHandler   func(*raft.Forward) error
	cut          map[string]bool
	shutdownOnce sync.Once
	done         chan struct{}
}

func (t *fakeTransport) Address() string { return t.address }

func (t *fakeTransport) RegisterVoteRequestHandler(h func(*raft.VoteRequest) (*raft.VoteResponse, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.voteHandler = h
}

func (t *fakeTransport) RegisterLogRequestHandler(h func(*raft.LogRequest) (*raft.LogResponse, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logHandler = h
}

func (t *fakeTransport) RegisterForwardHandler(h func(*raft.Forward) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fwdHandler = h
}

func (t *fakeTransport) Connect(address string) error { return nil }

func (t *fakeTransport) Close(address string) error { return nil }

func (t *fakeTransport) Run() error {
	<-t.done
	return nil
}

func (t *fakeTransport) Shutdown() {
	t.shutdownOnce.Do(func() { close(t.done) })
}

// setUnreachable simulates a network partition: after this call, sends
// from t to address fail with ErrUnreachable until restored.
func (t *fakeTransport) setUnreachable(address string, cut bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cut[address] = cut
}

func (t *fakeTransport) resolve(address string) (*fakeTransport, error) {
	t.mu.Lock()
	blocked := t.cut[address]
	t.mu.Unlock()
	if blocked {
		return nil, raft.ErrUnreachable{Address: address}
	}
	target, ok := t.network.lookup(address)
	if !ok {
		return nil, raft.ErrUnreachable{Address: address}
	}
	return target, nil
}

func (t *fakeTransport) SendVoteRequest(address string, request *raft.VoteRequest) (*raft.VoteResponse, error) {
	target, err := t.resolve(address)
	if err != nil {
		return nil, err
	}
	target.mu.Lock()
	handler := target.voteHandler
	target.mu.Unlock()
	if handler == nil {
		return nil, raft.ErrUnreachable{Address: address}
	}
	return handler(request)
}

func (t *fakeTransport) SendLogRequest(address string, request *raft.LogRequest) (*raft.LogResponse, error) {
	target, err := t.resolve(address)
	if err != nil {
		return nil, err
	}
	target.mu.Lock()
	handler := target.logHandler
	target.mu.Unlock()
	if handler == nil {
		return nil, raft.ErrUnreachable{Address: address}
	}
	return handler(request)
}

func (t *fakeTransport) SendForward(address string, forward *raft.Forward) error {
	target, err := t.resolve(address)
	if err != nil {
		return err
	}
	target.mu.Lock()
	handler := target.fwdHandler
	target.mu.Unlock()
	if handler == nil {
		return raft.ErrUnreachable{Address: address}
	}
	return handler(forward)
}

// testCluster bundles a set of in-memory-wired Raft nodes sharing a
// single virtual clock, so tests can advance time once and have every
// node's timers observe it consistently.
type testCluster struct {
	t     *testing.T
	clk   *clock.Virtual
	nodes map[string]*raft.Raft
	trs   map[string]*fakeTransport
}

func newTestCluster(t *testing.T, ids ...string) *testCluster {
	t.Helper()

	cluster := make(map[string]string, len(ids))
	for _, id := range ids {
		cluster[id] = id
	}

	network := newFakeNetwork()
	clk := clock.NewVirtual(time.Unix(0, 0))

	tc := &testCluster{
		t:     t,
		clk:   clk,
		nodes: make(map[string]*raft.Raft, len(ids)),
		trs:   make(map[string]*fakeTransport, len(ids)),
	}

	for _, id := range ids {
		tr := network.newTransport(id)
		node, err := raft.NewRaft(id, cluster, kvstore.New(), t.TempDir(),
			raft.WithTransport(tr),
			raft.WithClock(clk),
		)
		require.NoError(t, err)
		require.NoError(t, node.Start())
		tc.nodes[id] = node
		tc.trs[id] = tr
	}

	t.Cleanup(func() {
		for _, node := range tc.nodes {
			_ = node.Stop()
		}
	})

	return tc
}

// electLeader advances the shared clock once, past every node's election
// timeout, and waits for a node to reach the Leader state, which it
// returns.
func (tc *testCluster) electLeader() *raft.Raft {
	tc.t.Helper()

	tc.clk.Advance(31 * time.Second)

	var leader *raft.Raft
	require.Eventually(tc.t, func() bool {
		for _, node := range tc.nodes {
			if node.Status().State == raft.Leader {
				leader = node
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	return leader
}

func (tc *testCluster) followers(leader *raft.Raft) []*raft.Raft {
	var followers []*raft.Raft
	for id, node := range tc.nodes {
		if id != leader.Status().ID {
			followers = append(followers, node)
		}
	}
	return followers
}

func TestSingleNodeElectsItselfLeader(t *testing.T) {
	tc := newTestCluster(t, "node-0")
	leader := tc.electLeader()
	require.Equal(t, "node-0", leader.Status().ID)
}

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()

	for _, node := range tc.nodes {
		if node.Status().ID == leader.Status().ID {
			require.Equal(t, raft.Leader, node.Status().State)
		} else {
			require.NotEqual(t, raft.Leader, node.Status().State)
		}
	}
}

func TestFollowersAdoptLeaderTermAfterElection(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()
	leaderTerm := leader.Status().Term

	// Followers learn of the new leader from its LogRequests (sent on
	// promotion and on every heartbeat), not from the election itself,
	// which only requires a quorum of votes.
	tc.clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		for _, follower := range tc.followers(leader) {
			if follower.Status().CurrentLeader != leader.Status().ID {
				return false
			}
			if follower.Status().Term != leaderTerm {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)
}

func TestWriteCommitsAcrossQuorumAndIsReadable(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()

	future := leader.Write([]byte("SET x 1"))
	response, err := future.Await(2 * time.Second)
	require.NoError(t, err)

	result, ok := response.Response.(kvstore.Result)
	require.True(t, ok)
	require.Equal(t, "1", result.Value)

	readFuture := leader.Read([]byte("GET x"))
	readResponse, err := readFuture.Await(time.Second)
	require.NoError(t, err)
	readResult, ok := readResponse.Response.(kvstore.Result)
	require.True(t, ok)
	require.True(t, readResult.Found)
	require.Equal(t, "1", readResult.Value)
}

func TestWriteOnFollowerFailsWithNotLeaderAndForwards(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()
	tc.clk.Advance(2 * time.Second) // let followers learn who the leader is

	var follower *raft.Raft
	require.Eventually(t, func() bool {
		for _, node := range tc.followers(leader) {
			if node.Status().CurrentLeader == leader.Status().ID {
				follower = node
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	future := follower.Write([]byte("SET y 2"))
	_, err := future.Await(2 * time.Second)
	require.Error(t, err)

	var notLeader raft.NotLeaderError
	require.ErrorAs(t, err, &notLeader)
	require.Equal(t, leader.Status().ID, notLeader.KnownLeader)

	// The forwarded command should still have been committed via the
	// real leader, as a courtesy to the client that submitted it.
	require.Eventually(t, func() bool {
		readFuture := leader.Read([]byte("GET y"))
		response, err := readFuture.Await(time.Second)
		if err != nil {
			return false
		}
		result, ok := response.Response.(kvstore.Result)
		return ok && result.Found && result.Value == "2"
	}, 2*time.Second, time.Millisecond)
}

func TestReadOnFollowerFailsWithNotLeader(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()

	for _, follower := range tc.followers(leader) {
		future := follower.Read([]byte("GET x"))
		_, err := future.Await(time.Second)
		require.Error(t, err)
		require.IsType(t, raft.NotLeaderError{}, err)
	}
}

func TestIsolatedLeaderLosesLeadershipOnceItsLeaseExpires(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	leader := tc.electLeader()
	leaderTr := tc.trs[leader.Status().ID]

	for id := range tc.nodes {
		if id != leader.Status().ID {
			leaderTr.setUnreachable(id, true)
		}
	}

	// The lease armed on promotion is never renewed again once every
	// peer is unreachable, so it must eventually expire and the
	// isolated node must step down rather than keep answering reads.
	tc.clk.Advance(31 * time.Second)

	require.Eventually(t, func() bool {
		return leader.Status().State != raft.Leader
	}, 2*time.Second, time.Millisecond)

	future := leader.Read([]byte("GET x"))
	_, err := future.Await(time.Second)
	require.Error(t, err)
	require.IsType(t, raft.NotLeaderError{}, err)
}

func TestRequestVoteGrantedForUpToDateLog(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]

	response, err := node0.RequestVote(&raft.VoteRequest{
		CandidateID:          "node-1",
		CandidateTerm:        1,
		CandidateLogLength:   0,
		CandidateLastLogTerm: 0,
	})
	require.NoError(t, err)
	require.True(t, response.Granted)
	require.Equal(t, uint64(1), response.Term)
}

func TestRequestVoteDeniedForStaleLog(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]

	response, err := node0.AppendEntries(&raft.LogRequest{
		LeaderID:     "node-1",
		Term:         1,
		LeaderCommit: 2,
		Suffix: []*raft.LogEntry{
			raft.NewLogEntry(0, 1, "NO-OP", raft.NoOpEntry),
			raft.NewLogEntry(1, 1, "SET a 1", raft.OperationEntry),
		},
	})
	require.NoError(t, err)
	require.True(t, response.Success)

	// node0 now has a two-entry log at term 1; a candidate proposing an
	// empty log at a higher term must be denied the vote.
	denied, err := node0.RequestVote(&raft.VoteRequest{
		CandidateID:          "node-1",
		CandidateTerm:        2,
		CandidateLogLength:   0,
		CandidateLastLogTerm: 0,
	})
	require.NoError(t, err)
	require.False(t, denied.Granted)
}

func TestRequestVoteIsOneVotePerTerm(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1", "node-2")
	node0 := tc.nodes["node-0"]

	first, err := node0.RequestVote(&raft.VoteRequest{CandidateID: "node-1", CandidateTerm: 1})
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := node0.RequestVote(&raft.VoteRequest{CandidateID: "node-2", CandidateTerm: 1})
	require.NoError(t, err)
	require.False(t, second.Granted)

	// A new term releases the vote.
	third, err := node0.RequestVote(&raft.VoteRequest{CandidateID: "node-2", CandidateTerm: 2})
	require.NoError(t, err)
	require.True(t, third.Granted)
}

func TestAppendEntriesRejectsStaleTerm(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]

	_, err := node0.RequestVote(&raft.VoteRequest{CandidateID: "node-1", CandidateTerm: 5})
	require.NoError(t, err)

	response, err := node0.AppendEntries(&raft.LogRequest{LeaderID: "node-1", Term: 1})
	require.NoError(t, err)
	require.False(t, response.Success)
	require.Equal(t, uint64(5), response.Term)
}

func TestAppendEntriesRejectsOnPrefixMismatch(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]

	response, err := node0.AppendEntries(&raft.LogRequest{
		LeaderID:     "node-1",
		Term:         1,
		PrefixLength: 3,
		PrefixTerm:   1,
	})
	require.NoError(t, err)
	require.False(t, response.Success)
}

func TestAppendEntriesAppliesSuffixAndAdvancesCommit(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]

	suffix := []*raft.LogEntry{
		raft.NewLogEntry(0, 1, "NO-OP", raft.NoOpEntry),
		raft.NewLogEntry(1, 1, "SET a 1", raft.OperationEntry),
	}
	response, err := node0.AppendEntries(&raft.LogRequest{
		LeaderID:     "node-1",
		Term:         1,
		PrefixLength: 0,
		PrefixTerm:   0,
		LeaderCommit: 2,
		Suffix:       suffix,
	})
	require.NoError(t, err)
	require.True(t, response.Success)
	require.Equal(t, uint64(2), response.Ack)
	require.Equal(t, uint64(2), node0.Status().CommitLength)
}

func TestStoppedNodeRejectsVoteRequest(t *testing.T) {
	tc := newTestCluster(t, "node-0", "node-1")
	node0 := tc.nodes["node-0"]
	require.NoError(t, node0.Stop())

	_, err := node0.RequestVote(&raft.VoteRequest{CandidateID: "node-1", CandidateTerm: 1})
	require.Error(t, err)
}
