package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ardalan-k/raftkv/internal/clock"
	"github.com/ardalan-k/raftkv/internal/errors"
)

// NotLeaderError is returned when an operation is submitted to a server
// that is not the leader. Only the leader may service GET/SET.
type NotLeaderError struct {
	// ServerID is the ID of the server the operation was submitted to.
	ServerID string

	// KnownLeader is the ID of the server this one believes is leader,
	// or "" if it has no idea.
	KnownLeader string
}

func (e NotLeaderError) Error() string {
	return fmt.Sprintf("server %s is not the leader: knownLeader = %q", e.ServerID, e.KnownLeader)
}

// OperationTimeoutError is returned by OperationResponseFuture.Await
// when an operation does not complete within the caller-provided
// timeout.
type OperationTimeoutError struct{}

func (OperationTimeoutError) Error() string { return "operation timed out" }

// NewOperationTimeoutError constructs an OperationTimeoutError.
func NewOperationTimeoutError() error { return OperationTimeoutError{} }

// State is the role a node currently occupies in the cluster.
type State uint32

const (
	// Follower accepts LogRequests from a leader and may vote.
	Follower State = iota

	// Candidate is soliciting votes for an election it started.
	Candidate

	// Leader replicates and commits log entries and serves client
	// requests.
	Leader

	// Shutdown means the node has not been started, or has been
	// stopped.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Status is a snapshot of a node's externally visible state.
type Status struct {
	ID            string
	Address       string
	Term          uint64
	CommitLength  uint64
	State         State
	CurrentLeader string
}

// Raft implements the Raft consensus protocol with the leader-lease
// extension: a freshly elected leader waits out any lease a previous
// leader might still be holding before it starts serving, and a
// sitting leader steps down the instant it fails to renew its own
// lease against a quorum of followers.
type Raft struct {
	id string

	options *options

	transport Transport
	log       Log
	metadata  MetadataStore
	dump      *dumpWriter
	fsm       StateMachine

	// peerAddr contains every node in the cluster, including this one,
	// keyed by ID.
	peerAddr map[string]string

	// peerIDs is peerAddr's keys, excluding this node's own ID, sorted
	// for deterministic iteration order.
	peerIDs []string

	operations *operationManager
	lease      *leaderLease

	mu sync.Mutex

	state         State
	currentTerm   uint64
	votedFor      string
	currentLeader string

	// commitLengthUnsafe is the number of prefix log entries known
	// committed. Named to flag that every access must hold r.mu.
	commitLengthUnsafe uint64

	// votesReceived holds the IDs of peers (and self) that have
	// granted this node's vote request in the current term, while
	// Candidate.
	votesReceived map[string]bool

	// promoting is true between winning an election and actually
	// becoming Leader, while this node is sleeping out
	// maxKnownLeaseRemaining. A node in this state must not serve
	// reads or writes yet.
	promoting bool

	// sentLength/ackedLength are maintained only while Leader.
	sentLength map[string]uint64
	ackedLength map[string]uint64

	// leaseDeadline is the wall-clock instant this node's lease (if
	// any) expires. It is set only on becoming Leader or renewing, and
	// is deliberately never cleared on stepping down: a former leader
	// must still honor whatever lease it was granted so no other node
	// can safely assume leadership before it lapses.
	leaseDeadline time.Time

	electionTimer  clock.Timer
	heartbeatTimer clock.Timer
	leaseTimer     clock.Timer
}

// NewRaft creates a Raft node. cluster must map every node ID in the
// cluster, including id, to its network address. dataPath is the
// directory this node's persistent state lives in.
func NewRaft(id string, cluster map[string]string, fsm StateMachine, dataPath string, opts ...Option) (*Raft, error) {
	if _, ok := cluster[id]; !ok {
		return nil, errors.New("cluster configuration does not contain this node's ID")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := validateOptions(o); err != nil {
		return nil, err
	}
	if o.transport == nil {
		return nil, errors.New("a transport must be supplied with WithTransport")
	}

	r := &Raft{
		id:          id,
		options:     o,
		transport:   o.transport,
		log:         NewLog(dataPath),
		metadata:    NewMetadataStore(dataPath),
		fsm:         fsm,
		peerAddr:    cluster,
		operations:  newOperationManager(),
		lease:       newLeaderLease(),
		state:       Shutdown,
		sentLength:  make(map[string]uint64),
		ackedLength: make(map[string]uint64),
	}
	switch {
	case o.dumpWriter != nil:
		r.dump = newDumpWriter(o.dumpWriter)
	case !o.dumpDisabled:
		dump, err := newFileDumpWriter(dataPath)
		if err != nil {
			return nil, errors.WrapError(err, "failed to open dump file")
		}
		r.dump = dump
	}
	r.peerIDs = sortedPeerIDs(cluster)
	for i, peerID := range r.peerIDs {
		if peerID == id {
			r.peerIDs = append(r.peerIDs[:i], r.peerIDs[i+1:]...)
			break
		}
	}

	return r, nil
}

// Start opens persistent state, recovers it, connects to peers, and
// begins participating in the cluster as a Follower.
func (r *Raft) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Shutdown {
		return nil
	}

	r.transport.RegisterVoteRequestHandler(r.RequestVote)
	r.transport.RegisterLogRequestHandler(r.AppendEntries)
	r.transport.RegisterForwardHandler(r.HandleForward)

	if err := r.metadata.Open(); err != nil {
		return errors.WrapError(err, "failed to open metadata store")
	}
	if err := r.metadata.Replay(); err != nil {
		return errors.WrapError(err, "failed to replay metadata store")
	}
	commitLength, currentTerm, votedFor, err := r.metadata.Get()
	if err != nil {
		return errors.WrapError(err, "failed to read metadata")
	}
	r.currentTerm = currentTerm
	r.votedFor = votedFor

	if err := r.log.Open(); err != nil {
		return errors.WrapError(err, "failed to open log")
	}
	if err := r.log.Replay(); err != nil {
		return errors.WrapError(err, "failed to replay log")
	}

	if err := r.applyCommitted(0, commitLength); err != nil {
		return errors.WrapError(err, "failed to replay committed entries into state machine")
	}
	r.commitLengthUnsafe = commitLength

	for _, peerID := range r.peerIDs {
		if err := r.transport.Connect(r.peerAddr[peerID]); err != nil {
			r.options.logger.Errorf("failed to connect to peer: id = %s, error = %v", peerID, err)
		}
	}

	r.state = Follower
	r.resetElectionTimer()

	go func() {
		if err := r.transport.Run(); err != nil {
			r.options.logger.Errorf("transport stopped: error = %v", err)
		}
	}()

	r.options.logger.Infof(
		"node started: id = %s, term = %d, commitLength = %d, electionTimeout = %v, heartbeatInterval = %v, leaseDuration = %v",
		r.id, r.currentTerm, r.commitLengthUnsafe, r.options.electionTimeout, r.options.heartbeatInterval, r.options.leaseDuration,
	)
	return nil
}

// Stop halts timers, disconnects from peers, and closes persistent
// state.
func (r *Raft) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Shutdown {
		return nil
	}

	r.state = Shutdown
	r.stopElectionTimer()
	r.stopHeartbeatTimer()
	if r.leaseTimer != nil {
		r.leaseTimer.Stop()
		r.leaseTimer = nil
	}

	for _, p := range r.operations.drain() {
		p.future.fail(NotLeaderError{ServerID: r.id, KnownLeader: r.currentLeader})
	}

	for _, peerID := range r.peerIDs {
		if err := r.transport.Close(r.peerAddr[peerID]); err != nil {
			r.options.logger.Errorf("failed to close connection to peer: id = %s, error = %v", peerID, err)
		}
	}
	r.transport.Shutdown()

	if err := r.log.Close(); err != nil {
		r.options.logger.Errorf("failed to close log: error = %v", err)
	}
	if err := r.metadata.Close(); err != nil {
		r.options.logger.Errorf("failed to close metadata store: error = %v", err)
	}
	if r.dump != nil {
		if err := r.dump.Close(); err != nil {
			r.options.logger.Errorf("failed to close dump file: error = %v", err)
		}
	}

	r.options.logger.Info("node stopped")
	return nil
}

// Status returns a snapshot of this node's externally visible state.
func (r *Raft) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		ID:            r.id,
		Address:       r.transport.Address(),
		Term:          r.currentTerm,
		CommitLength:  r.commitLengthUnsafe,
		State:         r.state,
		CurrentLeader: r.currentLeader,
	}
}

// Read submits a lease-backed read-only operation. It is answered
// immediately from the state machine without going through the log,
// provided this node is currently a lease-holding Leader.
func (r *Raft) Read(command []byte) *OperationResponseFuture {
	r.mu.Lock()
	defer r.mu.Unlock()

	future := newOperationResponseFuture()
	if r.state != Leader || r.promoting {
		future.fail(NotLeaderError{ServerID: r.id, KnownLeader: r.currentLeader})
		return future
	}

	result := r.fsm.Apply(&Operation{OperationType: ReadOnlyOperation, Bytes: command})
	future.succeed(OperationResponse{OperationType: ReadOnlyOperation, Response: result})
	return future
}

// Write submits a command for replication. If this node is Leader, the
// command is appended to the log and the returned future resolves once
// a quorum commits it. If this node is a Follower with a known leader,
// the command is forwarded as a courtesy and the future fails
// immediately with NotLeaderError so the caller can retry against the
// leader directly.
func (r *Raft) Write(command []byte) *OperationResponseFuture {
	r.mu.Lock()

	future := newOperationResponseFuture()

	if r.state != Leader || r.promoting {
		knownLeader := r.currentLeader
		if knownLeader != "" {
			forward := &Forward{OriginID: r.id, Term: r.currentTerm, Command: string(command)}
			addr := r.peerAddr[knownLeader]
			r.mu.Unlock()
			go func() {
				if err := r.transport.SendForward(addr, forward); err != nil {
					r.options.logger.Debugf("failed to forward command to leader: leader = %s, error = %v", knownLeader, err)
				}
			}()
		} else {
			r.mu.Unlock()
		}
		future.fail(NotLeaderError{ServerID: r.id, KnownLeader: knownLeader})
		return future
	}

	index := r.log.Len()
	entry := NewLogEntry(index, r.currentTerm, string(command), OperationEntry)
	if err := r.log.Append(entry); err != nil {
		r.options.logger.Errorf("failed to append entry to log: error = %v", err)
		r.mu.Unlock()
		future.fail(err)
		return future
	}

	r.lease.resetRenewals()
	r.operations.addReplicated(index, &pendingOperation{
		operation: &Operation{OperationType: ReplicatedOperation, Bytes: command, LogIndex: index, LogTerm: r.currentTerm},
		future:    future,
	})

	r.options.logger.Debugf("operation appended: logIndex = %d, logTerm = %d", index, r.currentTerm)
	r.mu.Unlock()

	r.replicateToAllPeers()
	return future
}

// RequestVote is the VoteRequest handler registered with the
// transport.
func (r *Raft) RequestVote(request *VoteRequest) (*VoteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Shutdown {
		return nil, errors.New("node is shut down")
	}

	r.options.logger.Debugf(
		"VoteRequest received: candidate = %s, term = %d, logLength = %d, lastLogTerm = %d",
		request.CandidateID, request.CandidateTerm, request.CandidateLogLength, request.CandidateLastLogTerm,
	)

	if request.CandidateTerm > r.currentTerm {
		r.adoptHigherTerm(request.CandidateTerm)
		r.stepDownToFollower("")
	}

	granted := false
	if request.CandidateTerm == r.currentTerm {
		myLastTerm := r.log.LastTerm()
		logOk := request.CandidateLastLogTerm > myLastTerm ||
			(request.CandidateLastLogTerm == myLastTerm && request.CandidateLogLength >= r.log.Len())
		if logOk && (r.votedFor == "" || r.votedFor == request.CandidateID) {
			granted = true
			r.votedFor = request.CandidateID
			r.persistMetadata()
			r.resetElectionTimer()
		}
	}

	if r.dump != nil {
		r.dump.record("RequestVote: candidate=%s term=%d granted=%v", request.CandidateID, request.CandidateTerm, granted)
	}

	return &VoteResponse{
		VoterID:                r.id,
		Term:                   r.currentTerm,
		Granted:                granted,
		LeaseRemainingForVoter: r.leaseRemainingUnsafe(),
	}, nil
}

// AppendEntries is the LogRequest handler registered with the
// transport.
func (r *Raft) AppendEntries(request *LogRequest) (*LogResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Shutdown {
		return nil, errors.New("node is shut down")
	}

	r.options.logger.Debugf(
		"LogRequest received: leader = %s, term = %d, prefixLength = %d, prefixTerm = %d, leaderCommit = %d, suffixLen = %d",
		request.LeaderID, request.Term, request.PrefixLength, request.PrefixTerm, request.LeaderCommit, len(request.Suffix),
	)

	if request.Term > r.currentTerm {
		r.adoptHigherTerm(request.Term)
	}

	if request.Term == r.currentTerm {
		r.stepDownToFollower(request.LeaderID)
		r.lease.observe(request.LeaderLeaseRemaining)
	}

	if request.Term != r.currentTerm {
		return &LogResponse{FollowerID: r.id, Term: r.currentTerm, Success: false}, nil
	}

	logOk := r.log.Len() >= request.PrefixLength && r.prefixTermMatches(request.PrefixLength, request.PrefixTerm)
	if !logOk {
		return &LogResponse{FollowerID: r.id, Term: r.currentTerm, Success: false}, nil
	}

	if err := r.appendEntriesToLog(request.PrefixLength, request.LeaderCommit, request.Suffix); err != nil {
		r.options.logger.Errorf("failed to append replicated entries: error = %v", err)
		return &LogResponse{FollowerID: r.id, Term: r.currentTerm, Success: false}, nil
	}

	return &LogResponse{
		FollowerID: r.id,
		Term:       r.currentTerm,
		Ack:        request.PrefixLength + uint64(len(request.Suffix)),
		Success:    true,
	}, nil
}

// HandleForward is the Forward handler registered with the transport.
// It is best-effort: there is no response delivered to the original
// client through this path, only a courtesy early replication attempt.
func (r *Raft) HandleForward(forward *Forward) error {
	r.mu.Lock()
	if r.state != Leader || r.promoting {
		knownLeader := r.currentLeader
		r.mu.Unlock()
		return NotLeaderError{ServerID: r.id, KnownLeader: knownLeader}
	}
	r.mu.Unlock()

	r.Write([]byte(forward.Command))
	return nil
}

func (r *Raft) prefixTermMatches(prefixLength, prefixTerm uint64) bool {
	if prefixLength == 0 {
		return true
	}
	entry, err := r.log.Get(prefixLength - 1)
	return err == nil && entry.Term == prefixTerm
}

// appendEntriesToLog implements the follower-side log reconciliation
// algorithm: truncate on conflict, append the remainder of suffix, and
// apply any newly committed prefix. Assumes r.mu is held.
func (r *Raft) appendEntriesToLog(prefixLength, leaderCommit uint64, suffix []*LogEntry) error {
	if len(suffix) > 0 && r.log.Len() > prefixLength {
		lastOverlap := minUint64(r.log.Len(), prefixLength+uint64(len(suffix))) - 1
		existing, err := r.log.Get(lastOverlap)
		if err != nil {
			return err
		}
		incoming := suffix[lastOverlap-prefixLength]
		if existing.IsConflict(incoming) {
			r.options.logger.Warnf("truncating log: newLength = %d", prefixLength)
			if err := r.log.Truncate(prefixLength); err != nil {
				return err
			}
		}
	}

	if r.log.Len() < prefixLength+uint64(len(suffix)) {
		start := r.log.Len() - prefixLength
		if err := r.log.Append(suffix[start:]...); err != nil {
			return err
		}
	}

	if leaderCommit > r.commitLengthUnsafe {
		newCommitLength := minUint64(leaderCommit, r.log.Len())
		if err := r.applyCommitted(r.commitLengthUnsafe, newCommitLength); err != nil {
			return err
		}
		r.commitLengthUnsafe = newCommitLength
		r.persistMetadata()
	}

	return nil
}

// applyCommitted applies every OperationEntry in log[from, to) to the
// state machine and resolves any futures waiting on those indices.
// NoOpEntry entries have no state-machine effect. Assumes r.mu is held.
func (r *Raft) applyCommitted(from, to uint64) error {
	if to <= from {
		return nil
	}
	results := make(map[uint64]interface{}, to-from)
	for i := from; i < to; i++ {
		entry, err := r.log.Get(i)
		if err != nil {
			return err
		}
		if entry.EntryType != OperationEntry {
			continue
		}
		results[i] = r.fsm.Apply(&Operation{
			OperationType: ReplicatedOperation,
			Bytes:         []byte(entry.Command),
			LogIndex:      entry.Index,
			LogTerm:       entry.Term,
		})
	}
	for _, pending := range r.operations.takeCommitted(to) {
		pending.future.succeed(OperationResponse{
			OperationType: ReplicatedOperation,
			Response:      results[pending.operation.LogIndex],
		})
	}
	return nil
}

// replicate sends a LogRequest to a single peer and handles the
// response. It acquires r.mu itself and must be called without it
// held, since the send must not block the rest of the node.
func (r *Raft) replicate(peerID string) {
	r.mu.Lock()
	if r.state != Leader {
		r.mu.Unlock()
		return
	}
	addr := r.peerAddr[peerID]
	term := r.currentTerm
	prefixLength := r.sentLength[peerID]
	var prefixTerm uint64
	if prefixLength > 0 {
		entry, err := r.log.Get(prefixLength - 1)
		if err != nil {
			r.options.logger.Errorf("failed to read prefix entry for peer: id = %s, error = %v", peerID, err)
			r.mu.Unlock()
			return
		}
		prefixTerm = entry.Term
	}
	suffix, err := r.log.From(prefixLength)
	if err != nil {
		r.options.logger.Errorf("failed to read suffix for peer: id = %s, error = %v", peerID, err)
		r.mu.Unlock()
		return
	}
	request := &LogRequest{
		LeaderID:             r.id,
		Term:                 term,
		PrefixLength:         prefixLength,
		PrefixTerm:           prefixTerm,
		LeaderCommit:         r.commitLengthUnsafe,
		Suffix:               suffix,
		LeaderLeaseRemaining: r.leaseRemainingUnsafe(),
	}
	r.mu.Unlock()

	response, err := r.transport.SendLogRequest(addr, request)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Leader || r.currentTerm != term {
		return
	}
	r.handleLogResponse(peerID, response)
}

// handleLogResponse applies the leader-side reaction to a LogResponse.
// Assumes r.mu is held.
func (r *Raft) handleLogResponse(peerID string, response *LogResponse) {
	if response.Term > r.currentTerm {
		r.adoptHigherTerm(response.Term)
		r.stepDownToFollower("")
		return
	}
	if response.Term != r.currentTerm || r.state != Leader {
		return
	}

	if response.Success && response.Ack >= r.ackedLength[peerID] {
		r.ackedLength[peerID] = response.Ack
		r.sentLength[peerID] = response.Ack
		r.lease.recordRenewal(peerID)
		if r.lease.renewalCount()+1 >= majority(len(r.peerAddr)) {
			r.renewLease()
		}
		r.commitAdvance()
		return
	}

	if r.sentLength[peerID] > 0 {
		r.sentLength[peerID]--
		go r.replicate(peerID)
	}
}

// commitAdvance implements §4.6's acks(i)/ready set computation.
// Assumes r.mu is held.
func (r *Raft) commitAdvance() {
	logLength := r.log.Len()
	needed := majority(len(r.peerAddr))

	var ready uint64
	for index := logLength; index > r.commitLengthUnsafe; index-- {
		acks := 1
		for _, peerID := range r.peerIDs {
			if r.ackedLength[peerID] >= index {
				acks++
			}
		}
		if acks >= needed {
			ready = index
			break
		}
	}
	if ready == 0 || ready <= r.commitLengthUnsafe {
		return
	}

	entry, err := r.log.Get(ready - 1)
	if err != nil {
		r.options.logger.Errorf("failed to read entry during commit advance: error = %v", err)
		return
	}
	if entry.Term != r.currentTerm {
		return
	}

	if err := r.applyCommitted(r.commitLengthUnsafe, ready); err != nil {
		r.options.logger.Errorf("failed to apply committed entries: error = %v", err)
		return
	}
	r.options.logger.Debugf("commit length advanced: from = %d, to = %d", r.commitLengthUnsafe, ready)
	r.commitLengthUnsafe = ready
	r.persistMetadata()
}

// replicateToAllPeers fans a LogRequest out to every peer. Called
// without r.mu held.
func (r *Raft) replicateToAllPeers() {
	r.mu.Lock()
	peerIDs := append([]string(nil), r.peerIDs...)
	singleNode := len(peerIDs) == 0
	r.mu.Unlock()

	for _, peerID := range peerIDs {
		go r.replicate(peerID)
	}
	if singleNode {
		r.mu.Lock()
		r.commitAdvance()
		r.mu.Unlock()
	}
}

// campaign broadcasts VoteRequests for the current term to every peer.
// Called without r.mu held.
func (r *Raft) campaign() {
	r.mu.Lock()
	if r.state != Candidate {
		r.mu.Unlock()
		return
	}
	request := &VoteRequest{
		CandidateID:          r.id,
		CandidateTerm:        r.currentTerm,
		CandidateLogLength:   r.log.Len(),
		CandidateLastLogTerm: r.log.LastTerm(),
	}
	peerIDs := append([]string(nil), r.peerIDs...)
	r.mu.Unlock()

	for _, peerID := range peerIDs {
		go r.sendVoteRequest(peerID, request)
	}
}

func (r *Raft) sendVoteRequest(peerID string, request *VoteRequest) {
	addr := r.peerAddr[peerID]
	response, err := r.transport.SendVoteRequest(addr, request)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Candidate || r.currentTerm != request.CandidateTerm {
		return
	}

	r.lease.observe(response.LeaseRemainingForVoter)

	if response.Term > r.currentTerm {
		r.adoptHigherTerm(response.Term)
		r.stepDownToFollower("")
		return
	}

	if response.Term == r.currentTerm && response.Granted {
		r.votesReceived[response.VoterID] = true
	}

	r.tryWinElection()
}

// tryWinElection promotes this node once it has gathered a strict
// majority of votes in the current term, after first sleeping out
// maxKnownLeaseRemaining to guarantee at most one live leader in
// wall-clock time. Assumes r.mu is held; the sleep itself happens in a
// detached goroutine so the lock is not held across it.
func (r *Raft) tryWinElection() {
	if r.state != Candidate || r.promoting {
		return
	}
	if len(r.votesReceived) < majority(len(r.peerAddr)) {
		return
	}

	r.promoting = true
	wait := r.lease.maxKnownLeaseRemaining
	term := r.currentTerm
	clk := r.options.clock

	if r.dump != nil {
		r.dump.record("won election: term=%d waitForLease=%v", term, wait)
	}

	go func() {
		if wait > 0 {
			clk.Sleep(wait)
		}
		r.mu.Lock()
		if r.state == Candidate && r.currentTerm == term {
			r.becomeLeader()
		} else {
			r.promoting = false
		}
		r.mu.Unlock()
	}()
}

// becomeCandidate starts a new election in the next term. Assumes
// r.mu is held.
func (r *Raft) becomeCandidate() {
	r.currentTerm++
	r.votedFor = r.id
	r.persistMetadata()

	r.state = Candidate
	r.currentLeader = ""
	r.promoting = false
	r.votesReceived = map[string]bool{r.id: true}
	r.lease.resetElectionScope()

	r.stopHeartbeatTimer()
	r.resetElectionTimer()

	r.options.logger.Infof("entered candidate state: term = %d", r.currentTerm)
	if r.dump != nil {
		r.dump.record("became candidate: term=%d", r.currentTerm)
	}

	r.tryWinElection()
}

// becomeLeader promotes this node to Leader. Assumes r.mu is held.
func (r *Raft) becomeLeader() {
	r.state = Leader
	r.currentLeader = r.id
	r.promoting = false
	r.stopElectionTimer()

	for _, peerID := range r.peerIDs {
		r.sentLength[peerID] = r.log.Len()
		r.ackedLength[peerID] = 0
	}

	entry := NewLogEntry(r.log.Len(), r.currentTerm, noOpCommand, NoOpEntry)
	if err := r.log.Append(entry); err != nil {
		r.options.logger.Errorf("failed to append no-op entry on promotion: error = %v", err)
	}

	r.lease.resetRenewals()
	r.leaseDeadline = r.options.clock.Now().Add(r.options.leaseDuration)
	r.armLeaseTimer(r.options.leaseDuration)
	r.armHeartbeatTimer()

	r.options.logger.Infof("entered leader state: term = %d", r.currentTerm)
	if r.dump != nil {
		r.dump.record("became leader: term=%d", r.currentTerm)
	}

	go r.replicateToAllPeers()
}

// adoptHigherTerm updates currentTerm and clears votedFor if term is
// greater than the current term. Assumes r.mu is held.
func (r *Raft) adoptHigherTerm(term uint64) {
	if term <= r.currentTerm {
		return
	}
	r.currentTerm = term
	r.votedFor = ""
	r.persistMetadata()
}

// stepDownToFollower transitions to Follower, recording leaderID as
// the node currently believed to be leader ("" if unknown). Any
// pending operations are failed: this node can no longer vouch for
// them. leaseDeadline is deliberately left untouched. Assumes r.mu is
// held.
func (r *Raft) stepDownToFollower(leaderID string) {
	wasLeader := r.state == Leader
	r.state = Follower
	r.currentLeader = leaderID
	r.promoting = false
	r.stopHeartbeatTimer()
	r.resetElectionTimer()

	if wasLeader {
		for _, pending := range r.operations.drain() {
			pending.future.fail(NotLeaderError{ServerID: r.id, KnownLeader: leaderID})
		}
	}

	r.options.logger.Infof("entered follower state: term = %d, leader = %q", r.currentTerm, leaderID)
	if r.dump != nil {
		r.dump.record("became follower: term=%d leader=%s", r.currentTerm, leaderID)
	}
}

// renewLease extends this node's lease by a fresh leaseDuration and
// resets the per-cycle renewal tracking. Assumes r.mu is held.
func (r *Raft) renewLease() {
	r.leaseDeadline = r.options.clock.Now().Add(r.options.leaseDuration)
	r.lease.resetRenewals()
	r.armLeaseTimer(r.options.leaseDuration)
}

// leaseRemainingUnsafe returns how much of this node's lease (if any)
// is left, clamped to zero. Assumes r.mu is held.
func (r *Raft) leaseRemainingUnsafe() time.Duration {
	if r.leaseDeadline.IsZero() {
		return 0
	}
	remaining := r.leaseDeadline.Sub(r.options.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r *Raft) persistMetadata() {
	if err := r.metadata.Set(r.commitLengthUnsafe, r.currentTerm, r.votedFor); err != nil {
		r.options.logger.Errorf("failed to persist metadata: error = %v", err)
	}
}

func (r *Raft) resetElectionTimer() {
	if r.electionTimer != nil {
		r.electionTimer.Stop()
	}
	base := r.options.electionTimeout
	timeout := base + time.Duration(rand.Int63n(int64(base)))
	r.electionTimer = r.options.clock.AfterFunc(timeout, r.onElectionTimeout)
}

func (r *Raft) stopElectionTimer() {
	if r.electionTimer != nil {
		r.electionTimer.Stop()
		r.electionTimer = nil
	}
}

func (r *Raft) stopHeartbeatTimer() {
	if r.heartbeatTimer != nil {
		r.heartbeatTimer.Stop()
		r.heartbeatTimer = nil
	}
}

func (r *Raft) armHeartbeatTimer() {
	if r.heartbeatTimer != nil {
		r.heartbeatTimer.Stop()
	}
	r.heartbeatTimer = r.options.clock.AfterFunc(r.options.heartbeatInterval, r.onHeartbeat)
}

func (r *Raft) armLeaseTimer(d time.Duration) {
	if r.leaseTimer != nil {
		r.leaseTimer.Stop()
	}
	r.leaseTimer = r.options.clock.AfterFunc(d, r.onLeaseExpire)
}

func (r *Raft) onElectionTimeout() {
	r.mu.Lock()
	if r.state == Shutdown || r.state == Leader {
		r.mu.Unlock()
		return
	}
	r.becomeCandidate()
	r.mu.Unlock()
	r.campaign()
}

func (r *Raft) onHeartbeat() {
	r.mu.Lock()
	if r.state != Leader {
		r.mu.Unlock()
		return
	}
	r.armHeartbeatTimer()
	r.mu.Unlock()
	r.replicateToAllPeers()
}

func (r *Raft) onLeaseExpire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Leader {
		return
	}
	r.options.logger.Warnf("lease expired without quorum renewal, stepping down: term = %d", r.currentTerm)
	if r.dump != nil {
		r.dump.record("lease expired: term=%d", r.currentTerm)
	}
	r.stepDownToFollower("")
}
