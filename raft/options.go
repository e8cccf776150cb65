package raft

import (
	"io"
	"time"

	"github.com/ardalan-k/raftkv/internal/clock"
	"github.com/ardalan-k/raftkv/internal/errors"
)

const (
	// minElectionTimeout and maxElectionTimeout bound Tmin/Tmax: the
	// election timeout on each node is chosen uniformly at random from
	// [electionTimeout, 2*electionTimeout), so electionTimeout itself
	// must leave room above one round-trip plus a heartbeat period.
	minElectionTimeout     = 2 * time.Second
	maxElectionTimeout     = 30 * time.Second
	defaultElectionTimeout = 10 * time.Second

	minHeartbeat     = 100 * time.Millisecond
	maxHeartbeat     = 5 * time.Second
	defaultHeartbeat = 1 * time.Second

	minLeaseDuration     = 500 * time.Millisecond
	maxLeaseDuration     = 30 * time.Second
	defaultLeaseDuration = 7 * time.Second
)

// Logger supports logging messages at the debug, info, warn, error, and fatal level.
type Logger interface {
	// Debug logs a message at debug level.
	Debug(args ...interface{})

	// Debugf logs a formatted message at debug level.
	Debugf(format string, args ...interface{})

	// Info logs a message at info level.
	Info(args ...interface{})

	// Infof logs a formatted message at info level.
	Infof(format string, args ...interface{})

	// Warn logs a message at warn level.
	Warn(args ...interface{})

	// Warnf logs a formatted message at warn level.
	Warnf(format string, args ...interface{})

	// Error logs a message at error level.
	Error(args ...interface{})

	// Errorf logs a formatted message at error level.
	Errorf(format string, args ...interface{})

	// Fatal logs a message at fatal level.
	Fatal(args ...interface{})

	// Fatalf logs a formatted message at fatal level.
	Fatalf(format string, args ...interface{})
}

// noopLogger discards everything. Used when WithLogger is never called so
// the zero-value Raft is still safe to run in tests.
type noopLogger struct{}

func (noopLogger) Debug(...interface{})          {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Info(...interface{})           {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warn(...interface{})           {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Error(...interface{})          {}
func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Fatal(...interface{})          {}
func (noopLogger) Fatalf(string, ...interface{}) {}

type options struct {
	// electionTimeout is the base Tmin for this node. A random time
	// between electionTimeout and 2 * electionTimeout is chosen for
	// each fresh election timer.
	electionTimeout time.Duration

	// heartbeatInterval is the period H between AppendEntries RPCs a
	// leader sends its followers. Must stay comfortably below
	// electionTimeout or followers will time out a live leader.
	heartbeatInterval time.Duration

	// leaseDuration is L_max, the constant lease length every node
	// agrees on a priori. Must not exceed electionTimeout.
	leaseDuration time.Duration

	// logger is used for debugging and important events.
	logger Logger

	// clock is the time source driving all of this node's timers.
	// Overridden with a virtual clock in tests for determinism.
	clock clock.Clock

	// dumpWriter overrides the default audit trail destination (the
	// "dump" file inside dataPath, see NewRaft) with an arbitrary
	// writer. Used by tests that want to inspect the audit trail
	// without touching the filesystem.
	dumpWriter io.Writer

	// dumpDisabled turns off the audit trail entirely, including the
	// default "dump" file NewRaft otherwise opens in dataPath.
	dumpDisabled bool

	// transport is the peer-to-peer channel this node uses to reach the
	// rest of the cluster. Must be supplied by the caller; there is no
	// usable default since it needs to know how to reach every peer.
	transport Transport
}

func defaultOptions() *options {
	return &options{
		electionTimeout:   defaultElectionTimeout,
		heartbeatInterval: defaultHeartbeat,
		leaseDuration:     defaultLeaseDuration,
		logger:            noopLogger{},
		clock:             clock.Real{},
	}
}

// Option is a function that updates the options associated with Raft.
type Option func(options *options) error

// WithElectionTimeout sets the base election timeout for the Raft server.
func WithElectionTimeout(d time.Duration) Option {
	return func(options *options) error {
		if d < minElectionTimeout || d > maxElectionTimeout {
			return errors.New("election timeout value is invalid")
		}
		options.electionTimeout = d
		return nil
	}
}

// WithHeartbeatInterval sets the heartbeat interval for the Raft server.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(options *options) error {
		if d < minHeartbeat || d > maxHeartbeat {
			return errors.New("heartbeat interval value is invalid")
		}
		options.heartbeatInterval = d
		return nil
	}
}

// WithLeaseDuration sets L_max, the lease length every node in the
// cluster must agree on.
func WithLeaseDuration(d time.Duration) Option {
	return func(options *options) error {
		if d < minLeaseDuration || d > maxLeaseDuration {
			return errors.New("lease duration value is invalid")
		}
		options.leaseDuration = d
		return nil
	}
}

// WithLogger sets the logger used by the Raft server.
func WithLogger(logger Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for election, heartbeat, and
// lease timers. Intended for injecting a virtual clock in tests; real
// deployments can leave this unset.
func WithClock(c clock.Clock) Option {
	return func(options *options) error {
		if c == nil {
			return errors.New("clock must not be nil")
		}
		options.clock = c
		return nil
	}
}

// WithDumpWriter redirects the node's free-form audit trail to w
// instead of the default "dump" file in dataPath. Intended for tests
// that want to inspect the audit trail without touching the
// filesystem; real deployments can leave this unset.
func WithDumpWriter(w io.Writer) Option {
	return func(options *options) error {
		options.dumpWriter = w
		return nil
	}
}

// WithoutDump disables the audit trail entirely, including the default
// "dump" file NewRaft otherwise opens in dataPath.
func WithoutDump() Option {
	return func(options *options) error {
		options.dumpDisabled = true
		return nil
	}
}

// WithTransport sets the peer-to-peer transport this node uses to reach
// the rest of the cluster. Required: NewRaft returns an error if it is
// never supplied.
func WithTransport(t Transport) Option {
	return func(options *options) error {
		if t == nil {
			return errors.New("transport must not be nil")
		}
		options.transport = t
		return nil
	}
}

func validateOptions(o *options) error {
	if o.heartbeatInterval >= o.electionTimeout {
		return errors.New("heartbeat interval must be strictly less than election timeout")
	}
	if o.leaseDuration > o.electionTimeout {
		return errors.New("lease duration must not exceed election timeout")
	}
	return nil
}
