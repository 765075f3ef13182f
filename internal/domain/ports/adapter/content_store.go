package adapter

import "context"

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// FileContent is a read-only view of a remote file. SHA is the version token
// required for conditional updates.
type FileContent struct {
	Path    string
	Content string
	SHA     string
	HTMLURL string
}

type DirectoryEntry struct {
	Name string
	Path string
	Type EntryType
}

// FileRef identifies a file after a successful write.
type FileRef struct {
	Path    string
	SHA     string
	HTMLURL string
	RawURL  string
}

// ContentStore reads and writes files in a remote versioned store.
// Absent files and directories are reported as nil / empty, not errors.
type ContentStore interface {
	GetFile(ctx context.Context, path string) (*FileContent, error)
	// CreateFile creates path; on a conflict it re-fetches and updates with
	// the fresh version token.
	CreateFile(ctx context.Context, path, content, message string) (*FileRef, error)
	UpdateFile(ctx context.Context, path, content, sha, message string) (*FileRef, error)
	ListDirectory(ctx context.Context, path string) ([]DirectoryEntry, error)
	RawURL(path string) string
}
