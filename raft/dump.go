package raft

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// dumpWriter appends free-form, human-readable lines to the node's
// audit trail file (spec.md §4.1/§6). It is not used for recovery; it
// exists purely so an operator can reconstruct what a node believed was
// happening without parsing structured logs.
type dumpWriter struct {
	w io.Writer
	c io.Closer
}

// newFileDumpWriter opens (or creates) the "dump" file in dir for
// appending.
func newFileDumpWriter(dir string) (*dumpWriter, error) {
	file, err := os.OpenFile(filepath.Join(dir, "dump"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &dumpWriter{w: file, c: file}, nil
}

// newDumpWriter wraps an arbitrary writer, primarily for tests that want
// to inspect the audit trail without touching the filesystem.
func newDumpWriter(w io.Writer) *dumpWriter {
	return &dumpWriter{w: w}
}

func (d *dumpWriter) record(format string, args ...interface{}) {
	if d == nil || d.w == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	fmt.Fprintf(d.w, "%s %s\n", time.Now().Format(time.RFC3339Nano), line)
}

func (d *dumpWriter) Close() error {
	if d == nil || d.c == nil {
		return nil
	}
	return d.c.Close()
}
