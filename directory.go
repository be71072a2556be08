package cask

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

const (
	dataFileExt  = ".data"
	hintFileExt  = ".hint"
	lockFileName = "flock"
	// mergeFinishedName is the sentinel written at the end of a successful
	// merge; its contents are the varint-encoded first non-merged fileID.
	mergeFinishedName = "merge-finished"
	// mergeStagingDirName is the sibling directory merge writes its output
	// segments into before the atomic cut-over.
	mergeStagingDirName = ".merge"
)

// segmentNamePattern matches "NNNNNNNNN.data" / "NNNNNNNNN.hint" filenames:
// a fixed-width zero-padded decimal fileID plus the segment's extension.
var segmentNamePattern = regexp.MustCompile(`^(\d{9})\.(data|hint)$`)

// dataFilePath and hintFilePath format the on-disk name for a segment's
// data and hint files: a 9-digit zero-padded fileID plus extension, per
// spec.md §6's persisted-layout example ("000000001.data").
func dataFilePath(dir string, id fileID) string {
	return filepath.Join(dir, fmt.Sprintf("%09d%s", id, dataFileExt))
}

func hintFilePath(dir string, id fileID) string {
	return filepath.Join(dir, fmt.Sprintf("%09d%s", id, hintFileExt))
}

func lockFilePath(dir string) string {
	return filepath.Join(dir, lockFileName)
}

func mergeFinishedPath(dir string) string {
	return filepath.Join(dir, mergeFinishedName)
}

func mergeStagingPath(dir string) string {
	return filepath.Join(dir, mergeStagingDirName)
}

// listSegmentIDs scans dir for "NNNNNNNNN.data" files and returns their
// fileIDs sorted ascending. Names that don't match the segment pattern but
// also aren't one of the recognized auxiliary names (lock file, merge
// marker, staging directory) are rejected — an unrecognized file in the
// data directory means the directory wasn't produced by cask, or is
// damaged, and open should not silently ignore it.
func listSegmentIDs(dir string) ([]fileID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %w", ErrIO, dir, err)
	}

	seen := make(map[fileID]bool)
	var ids []fileID
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() {
			if name == mergeStagingDirName {
				continue
			}
			return nil, fmt.Errorf("%w: unexpected subdirectory %s in data directory", ErrCorruptLog, name)
		}
		if name == lockFileName || name == mergeFinishedName {
			continue
		}
		m := segmentNamePattern.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("%w: unrecognized file %s in data directory", ErrCorruptLog, name)
		}
		if m[2] != "data" {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed segment name %s: %v", ErrCorruptLog, name, err)
		}
		id := fileID(n)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// hasHintFile reports whether fileID's hint sidecar exists in dir.
func hasHintFile(dir string, id fileID) bool {
	_, err := os.Stat(hintFilePath(dir, id))
	return err == nil
}

// encodeFileID varint-encodes a single fileID, the format the
// merge-finished marker uses to record the first non-merged file_id
// (spec.md §6).
func encodeFileID(id fileID) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(id))
	return buf[:n]
}

func decodeFileID(buf []byte) (fileID, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed merge-finished marker", ErrCorruptLog)
	}
	return fileID(v), nil
}
