// Package ftpfs presents a remote FTP server as a virtual filesystem
// with an API modeled after the os package.
//
// # Overview
//
// The package sits on top of a low-level FTP session (wire-level
// protocol client) and hides the protocol's statefulness behind a
// filesystem-like facade:
//
//   - Path resolution, directory listing, stat/lstat with symlink
//     following, tree walk
//   - File streams over data-channel transfers, in binary or text
//     mode, backed by a pool of child control connections so several
//     streams can be open at once
//   - Upload and download, unconditional or mtime-based conditional
//   - A bounded LRU cache of parsed directory entries
//   - Pluggable parsers for server listing formats, with
//     autodetection of the Unix and MS/DOS formats
//   - Reconciliation of server listing timestamps against UTC via a
//     configurable time shift
//
// # Basic Usage
//
// Connect with the bundled wire session factory:
//
//	host, err := ftpfs.Connect(ftpsession.Factory("ftp.example.com:21", "user", "password"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//
//	names, err := host.Listdir("/pub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, name := range names {
//	    fmt.Println(name)
//	}
//
// Read a remote file:
//
//	f, err := host.Open("/pub/notes.txt", ftpfs.WithMode("rb"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//	data, err := io.ReadAll(f)
//
// # Sessions
//
// All protocol work goes through the Session interface; any wire
// client can back a host by implementing it. The factory is invoked
// once for the primary connection and once per concurrently open file
// stream, since FTP transfers occupy their control connection for
// their whole duration.
//
// # Timestamps
//
// FTP listings carry timestamps in the server's time zone at minute
// or day precision. Call SynchronizeTimes after connecting (it needs
// write access to the current directory) or SetTimeShift with a known
// offset; stat results are then reported in UTC, and UploadIfNewer
// and DownloadIfNewer can compare modification times meaningfully.
//
// # Concurrency
//
// A Host is not safe for concurrent use. Use one host per goroutine;
// separate hosts are fully independent.
package ftpfs
