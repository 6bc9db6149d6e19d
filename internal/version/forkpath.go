// Package version assigns version numbers and fork paths to document
// revisions. A fork path is a dot-separated sequence of integers naming the
// branch lineage a revision belongs to; roots carry a single undotted number.
package version

import (
	"strconv"
	"strings"
)

// LastSegment returns the numeric value of the final dot-separated segment.
// Fork paths are system-generated, so a malformed segment parses to 0 as a
// guard against corrupt rows rather than an error.
func LastSegment(forkPath string) int {
	segment := forkPath
	if idx := strings.LastIndexByte(forkPath, '.'); idx >= 0 {
		segment = forkPath[idx+1:]
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0
	}
	return n
}

// Prefix returns the fork path truncated before its last segment, without the
// trailing dot. Undotted paths have an empty prefix.
func Prefix(forkPath string) string {
	if idx := strings.LastIndexByte(forkPath, '.'); idx >= 0 {
		return forkPath[:idx]
	}
	return ""
}

// Depth counts dot-separated segments. The empty path has depth 0.
func Depth(forkPath string) int {
	if forkPath == "" {
		return 0
	}
	return strings.Count(forkPath, ".") + 1
}

// Join appends a branch number to a prefix, omitting the dot when the prefix
// is empty.
func Join(prefix string, branch int) string {
	if prefix == "" {
		return strconv.Itoa(branch)
	}
	return prefix + "." + strconv.Itoa(branch)
}
