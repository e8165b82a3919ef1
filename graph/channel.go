package graph

import "strings"

// Channel naming convention (external contract, spec §3):
//   - plain names are state channels
//   - names beginning with "branch:to:" are branch channels signalling a
//     control edge to the named node
//   - names beginning with "__" are system channels
const (
	branchPrefix = "branch:to:"
	systemPrefix = "__"

	// InterruptChannel is the reserved system channel a run's pending
	// interrupt is recorded under.
	InterruptChannel = "__interrupt__"
)

// BranchChannel builds the branch channel name that routes to target.
func BranchChannel(target string) string {
	return branchPrefix + target
}

// IsBranchChannel reports whether name is a branch:to:* control channel.
func IsBranchChannel(name string) bool {
	return strings.HasPrefix(name, branchPrefix)
}

// BranchTarget extracts the target node name from a branch:to:* channel.
// ok is false if name is not a branch channel.
func BranchTarget(name string) (target string, ok bool) {
	if !IsBranchChannel(name) {
		return "", false
	}
	return strings.TrimPrefix(name, branchPrefix), true
}

// IsSystemChannel reports whether name is a __* system-reserved channel.
func IsSystemChannel(name string) bool {
	return strings.HasPrefix(name, systemPrefix)
}

// IsStateChannel reports whether name is an ordinary state channel (not
// a branch or system channel).
func IsStateChannel(name string) bool {
	return !IsBranchChannel(name) && !IsSystemChannel(name)
}
