package domain

import "context"

// CommandRunner executes one job command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// Archiver packages build outputs and produces checksum sidecars.
type Archiver interface {
	// Pack writes an archive at dest containing the file at src.
	Pack(ctx context.Context, src, dest string, format ArchiveFormat) error
	// Checksum returns the lowercase hex sha256 digest of the file at path.
	Checksum(path string) (string, error)
	// WriteChecksum computes the digest of path and writes it to a sibling
	// "<path>.sha256" file containing the digest only. It returns the
	// sidecar path.
	WriteChecksum(path string) (string, error)
}

// ReleasePublisher creates the immutable tag-named release from the given
// files (archives plus checksum sidecars).
type ReleasePublisher interface {
	Publish(ctx context.Context, tag string, files []string) (Release, error)
}

// RunStore persists pipeline run records.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
