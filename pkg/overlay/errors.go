package overlay

import "errors"

// Path validation errors. All of them are raised before any tree
// mutation, so a failed call never leaves a partial state.
var (
	// ErrBadPath indicates an empty path, an empty segment, or a trailing separator.
	ErrBadPath = errors.New("malformed path")
	// ErrPathTraversal indicates a path containing a ".." segment.
	ErrPathTraversal = errors.New("path traversal not allowed")
	// ErrPathExists indicates a create against a path already present in the branch.
	ErrPathExists = errors.New("path already exists")
	// ErrShadowsDisk indicates a create against a path that exists on the real file system.
	ErrShadowsDisk = errors.New("path exists on disk and would be shadowed")
)

// State precondition errors. The caller should re-fetch the current
// change list and retry deliberately.
var (
	// ErrNotFound indicates the path resolves to nothing in the branch or the vault.
	ErrNotFound = errors.New("file not found")
	// ErrFolderNotEmpty indicates a delete against a folder that still has live entries.
	ErrFolderNotEmpty = errors.New("folder is not empty")
	// ErrDestinationExists indicates a rename whose destination is already occupied.
	ErrDestinationExists = errors.New("destination already exists")
	// ErrIdentityMismatch indicates an approval whose master and staging nodes are not the same entry.
	ErrIdentityMismatch = errors.New("node identities do not match")
	// ErrStaleChange indicates an approval or rejection of a change no longer present.
	ErrStaleChange = errors.New("change is no longer present")
)

// Permanently unsupported operations. These fail identically forever;
// callers must route them around the overlay to the real file system.
var (
	// ErrBinaryUnsupported indicates binary content, which the overlay does not diff or merge.
	ErrBinaryUnsupported = errors.New("binary content is not supported")
	// ErrCopyUnsupported indicates a copy operation.
	ErrCopyUnsupported = errors.New("copy is not supported")
	// ErrTrashUnsupported indicates a trash operation.
	ErrTrashUnsupported = errors.New("trash is not supported")
)
