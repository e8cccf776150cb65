// Package config parses the static cluster membership file every node
// in a raftkv cluster reads at startup: a plain text mapping of node
// ID to network address, identical on every peer.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseCluster reads a cluster membership file from r. Each
// non-blank, non-comment line is "id address", whitespace-separated;
// lines starting with "#" are comments. Returns a map from node ID to
// address.
func ParseCluster(r io.Reader) (map[string]string, error) {
	cluster := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("config: line %d: expected \"id address\", got %q", lineNum, line)
		}

		id, address := fields[0], fields[1]
		if existing, ok := cluster[id]; ok {
			return nil, fmt.Errorf("config: line %d: duplicate node id %q (already mapped to %s)", lineNum, id, existing)
		}
		cluster[id] = address
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading cluster file: %w", err)
	}
	if len(cluster) == 0 {
		return nil, fmt.Errorf("config: cluster file contains no members")
	}
	return cluster, nil
}

// LoadCluster reads and parses the cluster membership file at path.
func LoadCluster(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open cluster file: %w", err)
	}
	defer f.Close()
	return ParseCluster(f)
}
