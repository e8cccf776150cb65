package transport

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ardalan-k/raftkv/raft"
)

// kind identifies which of the five message types a wire frame carries,
// so a single gRPC method can ship all of them through one raw codec.
type kind uint32

const (
	kindVoteRequest kind = iota + 1
	kindVoteResponse
	kindLogRequest
	kindLogResponse
	kindForward
)

// field numbers for the manually encoded messages below. Grouped per
// message so adding a field to one can't silently collide with another.
const (
	fieldVoteReqCandidateID = 1
	fieldVoteReqTerm        = 2
	fieldVoteReqLogLength   = 3
	fieldVoteReqLastTerm    = 4

	fieldVoteRespVoterID = 1
	fieldVoteRespTerm    = 2
	fieldVoteRespGranted = 3
	fieldVoteRespLease   = 4

	fieldLogReqLeaderID     = 1
	fieldLogReqTerm         = 2
	fieldLogReqPrefixLen    = 3
	fieldLogReqPrefixTerm   = 4
	fieldLogReqLeaderCommit = 5
	fieldLogReqSuffix       = 6
	fieldLogReqLease        = 7

	fieldLogEntryIndex = 1
	fieldLogEntryTerm  = 2
	fieldLogEntryCmd   = 3
	fieldLogEntryType  = 4

	fieldLogRespFollowerID = 1
	fieldLogRespTerm       = 2
	fieldLogRespAck        = 3
	fieldLogRespSuccess    = 4

	fieldForwardOriginID = 1
	fieldForwardTerm     = 2
	fieldForwardCommand  = 3
)

func encodeVoteRequest(req *raft.VoteRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVoteReqCandidateID, protowire.BytesType)
	b = protowire.AppendString(b, req.CandidateID)
	b = protowire.AppendTag(b, fieldVoteReqTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, req.CandidateTerm)
	b = protowire.AppendTag(b, fieldVoteReqLogLength, protowire.VarintType)
	b = protowire.AppendVarint(b, req.CandidateLogLength)
	b = protowire.AppendTag(b, fieldVoteReqLastTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, req.CandidateLastLogTerm)
	return b
}

func decodeVoteRequest(b []byte) (*raft.VoteRequest, error) {
	req := &raft.VoteRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldVoteReqCandidateID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.CandidateID = s
			b = b[n:]
		case fieldVoteReqTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.CandidateTerm = v
			b = b[n:]
		case fieldVoteReqLogLength:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.CandidateLogLength = v
			b = b[n:]
		case fieldVoteReqLastTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.CandidateLastLogTerm = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return req, nil
}

func encodeVoteResponse(resp *raft.VoteResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVoteRespVoterID, protowire.BytesType)
	b = protowire.AppendString(b, resp.VoterID)
	b = protowire.AppendTag(b, fieldVoteRespTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, resp.Term)
	b = protowire.AppendTag(b, fieldVoteRespGranted, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(resp.Granted))
	b = protowire.AppendTag(b, fieldVoteRespLease, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(resp.LeaseRemainingForVoter))
	return b
}

func decodeVoteResponse(b []byte) (*raft.VoteResponse, error) {
	resp := &raft.VoteResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldVoteRespVoterID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.VoterID = s
			b = b[n:]
		case fieldVoteRespTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Term = v
			b = b[n:]
		case fieldVoteRespGranted:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Granted = v != 0
			b = b[n:]
		case fieldVoteRespLease:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.LeaseRemainingForVoter = time.Duration(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

func encodeLogEntry(e *raft.LogEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLogEntryIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Index)
	b = protowire.AppendTag(b, fieldLogEntryTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Term)
	b = protowire.AppendTag(b, fieldLogEntryCmd, protowire.BytesType)
	b = protowire.AppendString(b, e.Command)
	b = protowire.AppendTag(b, fieldLogEntryType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.EntryType))
	return b
}

func decodeLogEntry(b []byte) (*raft.LogEntry, error) {
	e := &raft.LogEntry{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldLogEntryIndex:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Index = v
			b = b[n:]
		case fieldLogEntryTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Term = v
			b = b[n:]
		case fieldLogEntryCmd:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Command = s
			b = b[n:]
		case fieldLogEntryType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.EntryType = raft.LogEntryType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return e, nil
}

func encodeLogRequest(req *raft.LogRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLogReqLeaderID, protowire.BytesType)
	b = protowire.AppendString(b, req.LeaderID)
	b = protowire.AppendTag(b, fieldLogReqTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, req.Term)
	b = protowire.AppendTag(b, fieldLogReqPrefixLen, protowire.VarintType)
	b = protowire.AppendVarint(b, req.PrefixLength)
	b = protowire.AppendTag(b, fieldLogReqPrefixTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, req.PrefixTerm)
	b = protowire.AppendTag(b, fieldLogReqLeaderCommit, protowire.VarintType)
	b = protowire.AppendVarint(b, req.LeaderCommit)
	for _, e := range req.Suffix {
		b = protowire.AppendTag(b, fieldLogReqSuffix, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLogEntry(e))
	}
	b = protowire.AppendTag(b, fieldLogReqLease, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.LeaderLeaseRemaining))
	return b
}

func decodeLogRequest(b []byte) (*raft.LogRequest, error) {
	req := &raft.LogRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldLogReqLeaderID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.LeaderID = s
			b = b[n:]
		case fieldLogReqTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.Term = v
			b = b[n:]
		case fieldLogReqPrefixLen:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.PrefixLength = v
			b = b[n:]
		case fieldLogReqPrefixTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.PrefixTerm = v
			b = b[n:]
		case fieldLogReqLeaderCommit:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.LeaderCommit = v
			b = b[n:]
		case fieldLogReqSuffix:
			eb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			entry, err := decodeLogEntry(eb)
			if err != nil {
				return nil, err
			}
			req.Suffix = append(req.Suffix, entry)
			b = b[n:]
		case fieldLogReqLease:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.LeaderLeaseRemaining = time.Duration(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return req, nil
}

func encodeLogResponse(resp *raft.LogResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLogRespFollowerID, protowire.BytesType)
	b = protowire.AppendString(b, resp.FollowerID)
	b = protowire.AppendTag(b, fieldLogRespTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, resp.Term)
	b = protowire.AppendTag(b, fieldLogRespAck, protowire.VarintType)
	b = protowire.AppendVarint(b, resp.Ack)
	b = protowire.AppendTag(b, fieldLogRespSuccess, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(resp.Success))
	return b
}

func decodeLogResponse(b []byte) (*raft.LogResponse, error) {
	resp := &raft.LogResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldLogRespFollowerID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.FollowerID = s
			b = b[n:]
		case fieldLogRespTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Term = v
			b = b[n:]
		case fieldLogRespAck:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Ack = v
			b = b[n:]
		case fieldLogRespSuccess:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Success = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

func encodeForward(f *raft.Forward) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldForwardOriginID, protowire.BytesType)
	b = protowire.AppendString(b, f.OriginID)
	b = protowire.AppendTag(b, fieldForwardTerm, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Term)
	b = protowire.AppendTag(b, fieldForwardCommand, protowire.BytesType)
	b = protowire.AppendString(b, f.Command)
	return b
}

func decodeForward(b []byte) (*raft.Forward, error) {
	f := &raft.Forward{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldForwardOriginID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.OriginID = s
			b = b[n:]
		case fieldForwardTerm:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.Term = v
			b = b[n:]
		case fieldForwardCommand:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.Command = s
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return f, nil
}

// frame prefixes a payload with the kind tag that tells the receiving
// codec which decode function to run, since all five message types
// share one gRPC raw-bytes stream.
func frame(k kind, payload []byte) []byte {
	b := protowire.AppendVarint(nil, uint64(k))
	return append(b, payload...)
}

func unframe(b []byte) (kind, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return kind(v), b[n:], nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

var errUnknownKind = fmt.Errorf("transport: unknown wire frame kind")
