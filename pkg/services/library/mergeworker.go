package library

import "context"

// MergeWorker dispatches CPU-bound VHD coalescing to a separate
// process so it never GC-stalls the otherwise responsive event loop
// (§5). Merges on a given chain must be serialized by the caller; the
// worker itself does not enforce per-chain mutual exclusion.
//
//go:generate go run go.uber.org/mock/mockgen -source=$GOFILE -destination=mock/mergeworker.go -package=mock_library MergeWorker
type MergeWorker interface {
	// MergeVHD coalesces parentPath into childPath on the given
	// remotes. On success the caller may unlink parentPath; on failure
	// the caller must quarantine it rather than retry automatically.
	MergeVHD(ctx context.Context, parentRemoteID, parentPath, childRemoteID, childPath string) error
}
