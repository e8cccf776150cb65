package raft

import "time"

// VoteRequest is sent by a candidate to solicit a vote for an election.
type VoteRequest struct {
	// CandidateID is the ID of the server requesting the vote.
	CandidateID string

	// CandidateTerm is the term the candidate is running an election for.
	CandidateTerm uint64

	// CandidateLogLength is the length of the candidate's log.
	CandidateLogLength uint64

	// CandidateLastLogTerm is the term of the last entry in the
	// candidate's log, or zero if the candidate's log is empty.
	CandidateLastLogTerm uint64
}

// VoteResponse is the reply to a VoteRequest. It is always sent, whether
// the vote was granted or denied, because a denial still carries the
// voter's lease-remaining so a future leader learns an upper bound on
// any lease that could still be outstanding elsewhere.
type VoteResponse struct {
	// VoterID is the ID of the server that processed the vote.
	VoterID string

	// Term is the voter's current term after processing the request.
	Term uint64

	// Granted reports whether the vote was granted.
	Granted bool

	// LeaseRemainingForVoter is the voter's current lease timer
	// remaining, or zero if it has none running.
	LeaseRemainingForVoter time.Duration
}

// LogRequest is sent by the leader to replicate entries (or, with an
// empty Suffix, as a heartbeat).
type LogRequest struct {
	// LeaderID is the ID of the leader sending the request.
	LeaderID string

	// Term is the leader's current term.
	Term uint64

	// PrefixLength is the number of entries in the leader's log that
	// precede Suffix.
	PrefixLength uint64

	// PrefixTerm is the term of the log entry at PrefixLength-1, or
	// zero if PrefixLength is zero.
	PrefixTerm uint64

	// LeaderCommit is the leader's commitLength.
	LeaderCommit uint64

	// Suffix contains the entries the follower is missing, starting at
	// index PrefixLength.
	Suffix []*LogEntry

	// LeaderLeaseRemaining is the leader's current lease timer
	// remaining, propagated so followers can bound the leases of any
	// leader they might themselves become.
	LeaderLeaseRemaining time.Duration
}

// LogResponse is the reply to a LogRequest.
type LogResponse struct {
	// FollowerID is the ID of the server that processed the request.
	FollowerID string

	// Term is the follower's current term after processing the request.
	Term uint64

	// Ack is the follower's log length after applying the request, if
	// Success is true. If Success is false, Ack is zero.
	Ack uint64

	// Success reports whether the follower accepted the request.
	Success bool
}

// Forward carries a client write that a follower received but could not
// service itself, relayed to the node the follower believes is leader.
type Forward struct {
	// OriginID is the ID of the follower relaying the command.
	OriginID string

	// Term is the follower's term at the time of forwarding.
	Term uint64

	// Command is the opaque command text, e.g. "SET k v".
	Command string
}
