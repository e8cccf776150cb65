package raft

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ardalan-k/raftkv/internal/errors"
)

var errMetadataStoreNotOpen = errors.New("metadata store is not open")

// persistentMetadata is the triple that must be durable before any
// outbound message that depends on it (spec.md §3, invariants 7-8).
type persistentMetadata struct {
	commitLength uint64
	currentTerm  uint64
	votedFor     string
}

// MetadataStore is the component of Raft responsible for persistently
// storing commitLength, currentTerm, and votedFor.
type MetadataStore interface {
	// Open opens the metadata file, creating it if necessary.
	Open() error

	// Close closes the metadata file.
	Close() error

	// Replay loads the most recently persisted metadata into memory.
	Replay() error

	// Set persists the given metadata, overwriting whatever was there
	// before. The write is atomic: either the full new state reaches
	// disk or the old state is left untouched.
	Set(commitLength, currentTerm uint64, votedFor string) error

	// Get returns the most recently persisted metadata. Returns the
	// zero values if nothing has been persisted yet.
	Get() (commitLength, currentTerm uint64, votedFor string, err error)
}

// fileMetadataStore implements MetadataStore as a single ASCII file,
// rewritten atomically on every change, in the format spec.md §6
// requires: "Commit length <N> Term <T> Node Voted For ID <V>".
type fileMetadataStore struct {
	path  string
	file  *os.File
	state persistentMetadata
}

// NewMetadataStore creates a MetadataStore backed by a "metadata" file
// in the given directory.
func NewMetadataStore(dir string) MetadataStore {
	return &fileMetadataStore{path: dir}
}

func (m *fileMetadataStore) metadataFilePath() string {
	return filepath.Join(m.path, "metadata")
}

func (m *fileMetadataStore) Open() error {
	file, err := os.OpenFile(m.metadataFilePath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.WrapError(err, "failed to open metadata store")
	}
	m.file = file
	return nil
}

func (m *fileMetadataStore) Close() error {
	if m.file == nil {
		return nil
	}
	if err := m.file.Close(); err != nil {
		return errors.WrapError(err, "failed to close metadata store")
	}
	m.file = nil
	m.state = persistentMetadata{}
	return nil
}

func (m *fileMetadataStore) Replay() error {
	if m.file == nil {
		return errMetadataStoreNotOpen
	}
	if _, err := m.file.Seek(0, io.SeekStart); err != nil {
		return errors.WrapError(err, "failed to replay metadata store")
	}

	reader := bufio.NewReader(m.file)
	if _, err := reader.Peek(1); err == io.EOF {
		m.state = persistentMetadata{}
		return nil
	}
	state, err := decodeMetadataLine(reader)
	if err != nil && err != io.EOF {
		return errors.WrapError(err, "failed to replay metadata store")
	}
	m.state = state
	return nil
}

func decodeMetadataLine(r io.Reader) (persistentMetadata, error) {
	var state persistentMetadata
	var votedFor string
	n, err := fmt.Fscanf(r, "Commit length %d Term %d Node Voted For ID %s",
		&state.commitLength, &state.currentTerm, &votedFor)
	if err != nil {
		return persistentMetadata{}, err
	}
	if n != 3 {
		return persistentMetadata{}, io.EOF
	}
	if votedFor == "-" {
		votedFor = ""
	}
	state.votedFor = votedFor
	return state, nil
}

func (m *fileMetadataStore) Set(commitLength, currentTerm uint64, votedFor string) error {
	if m.file == nil {
		return errMetadataStoreNotOpen
	}

	tmpFile, err := os.CreateTemp(m.path, "metadata-tmp-")
	if err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}

	newState := persistentMetadata{commitLength: commitLength, currentTerm: currentTerm, votedFor: votedFor}
	printedVotedFor := votedFor
	if printedVotedFor == "" {
		printedVotedFor = "-"
	}
	if _, err := fmt.Fprintf(tmpFile, "Commit length %d Term %d Node Voted For ID %s\n",
		newState.commitLength, newState.currentTerm, printedVotedFor); err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}
	if err := tmpFile.Sync(); err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}
	if err := m.file.Close(); err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}
	if err := os.Rename(tmpFile.Name(), m.metadataFilePath()); err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}

	file, err := os.OpenFile(m.metadataFilePath(), os.O_RDWR, 0o644)
	if err != nil {
		return errors.WrapError(err, "failed to persist metadata")
	}
	m.file = file
	m.state = newState
	return nil
}

func (m *fileMetadataStore) Get() (uint64, uint64, string, error) {
	if m.file == nil {
		return 0, 0, "", errMetadataStoreNotOpen
	}
	return m.state.commitLength, m.state.currentTerm, m.state.votedFor, nil
}
