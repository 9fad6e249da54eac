package vnode

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"kvring/internal/clock"
)

// loadAndBumpEpoch reads the persisted epoch for partition from dataDir,
// increments it, writes it back, and returns the resulting VnodeID. This
// is the design's essential correctness property: every (re)open of
// a vnode gets a strictly greater epoch, so dots issued in this lifetime
// can never collide with dots a crashed prior instance may still have in
// flight from other replicas.
func loadAndBumpEpoch(dataDir string, partition uint32) (clock.VnodeID, error) {
	path := epochPath(dataDir, partition)

	current, err := readEpoch(path)
	if err != nil {
		return clock.VnodeID{}, err
	}

	next := current + 1
	if err := writeEpoch(path, next); err != nil {
		return clock.VnodeID{}, err
	}

	return clock.VnodeID{Partition: partition, Epoch: next}, nil
}

func epochPath(dataDir string, partition uint32) string {
	return filepath.Join(dataDir, fmt.Sprintf("partition-%d.epoch", partition))
}

func readEpoch(path string) (uint32, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vnode: read epoch: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("vnode: parse epoch: %w", err)
	}
	return uint32(v), nil
}

func writeEpoch(path string, epoch uint32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vnode: create epoch dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(epoch), 10)), 0o644); err != nil {
		return fmt.Errorf("vnode: write epoch: %w", err)
	}
	return os.Rename(tmp, path)
}
