package ftpfs

import (
	"io/fs"
	"time"
)

// Timestamp precisions a listing format can carry. A zero precision
// means the precision is unknown (e.g. for timestamps clamped to the
// epoch).
const (
	MinutePrecision = time.Minute
	DayPrecision    = 24 * time.Hour
)

// StatResult holds the metadata of one remote directory entry, derived
// from a single listing line. It resembles a POSIX stat result, with
// the differences an FTP listing forces: the owner and group are only
// known as strings, and the modification time carries an explicit
// precision.
//
// Records are immutable once created by a parser; the stat cache hands
// out shared pointers.
type StatResult struct {
	// Name is the base name of the entry within its directory.
	Name string

	// Mode holds the file type and permission bits.
	Mode fs.FileMode

	// NLink is the link count, 0 when the format doesn't provide one.
	NLink int

	// User and Group are the owner and group as listed. Formats
	// without owner information leave them empty.
	User  string
	Group string

	// Size is the entry size in bytes.
	Size int64

	// MTime is the modification time in UTC. Listing timestamps that
	// parse to before the epoch are clamped to the epoch.
	MTime time.Time

	// MTimePrecision is the resolution of MTime as the listing format
	// conveys it: MinutePrecision for recent entries, DayPrecision for
	// older ones in the Unix format, 0 when unknown.
	MTimePrecision time.Duration

	// Target is the symlink target, possibly relative, empty for
	// non-links.
	Target string
}

// IsDir reports whether the entry is a directory.
func (r *StatResult) IsDir() bool {
	return r.Mode.IsDir()
}

// IsRegular reports whether the entry is a regular file.
func (r *StatResult) IsRegular() bool {
	return r.Mode.IsRegular()
}

// IsSymlink reports whether the entry is a symbolic link.
func (r *StatResult) IsSymlink() bool {
	return r.Mode&fs.ModeSymlink != 0
}
