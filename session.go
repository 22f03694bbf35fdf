package ftpfs

import "io"

// Session is the minimal contract the host needs from a low-level FTP
// client wrapping one control connection. The ftpsession package
// provides the default implementation; any wire client can be adapted
// by implementing this interface.
//
// All paths cross this interface as text in the session's encoding.
// Methods block until the server replied or the transport timed out.
type Session interface {
	// Pwd returns the current remote working directory.
	Pwd() (string, error)

	// Cwd changes the remote working directory.
	Cwd(path string) error

	// Mkd creates a remote directory.
	Mkd(path string) error

	// Rmd removes an empty remote directory.
	Rmd(path string) error

	// Dele removes a remote file.
	Dele(path string) error

	// Rename renames a remote file or directory (RNFR/RNTO).
	Rename(from, to string) error

	// VoidCmd sends a raw command line and expects a 2xx reply.
	VoidCmd(cmd string) error

	// VoidResp reads one pending reply and expects it to be 2xx.
	// Used to collect the completion reply after a data transfer.
	VoidResp() error

	// Dir runs a LIST command with the given arguments and delivers
	// each raw listing line to fn, decoded to text with the session's
	// encoding. The host passes "-a" as the first argument when
	// hidden entries should be included.
	Dir(fn func(line string), args ...string) error

	// TransferCmd issues a data-channel command such as "RETR name"
	// or "STOR name" in binary mode and returns the open data
	// connection. A non-negative rest restarts the transfer at that
	// byte offset. The caller must close the returned connection and
	// then collect the completion reply with VoidResp.
	TransferCmd(cmd string, rest int64) (io.ReadWriteCloser, error)

	// Encoding reports the name of the encoding the session uses for
	// paths on the wire (e.g. "latin-1"). An empty string means the
	// session has no declared encoding; byte paths cannot be used
	// with such sessions.
	Encoding() string

	// Close tears down the control connection.
	Close() error
}

// SessionFactory produces connected, logged-in sessions. The host
// calls it once for its primary session and again for every child
// session backing a concurrent file transfer, so the factory must be
// safe to invoke repeatedly with the same connection parameters.
type SessionFactory func() (Session, error)
