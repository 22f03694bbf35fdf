package ftpfs

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/gonzalop/ftpfs/ftppath"
	"golang.org/x/text/encoding"
)

// Host presents a remote FTP server as a virtual filesystem with an
// API modeled after the os package: path resolution, directory
// listing, stat, file streams, tree walk, upload/download.
//
// A host owns one primary control connection for commands and a pool
// of child connections used for concurrent file streams, because FTP
// allows only one transfer per connection. Closing the host closes
// everything it owns.
//
// A Host is not safe for concurrent use; use one host per goroutine.
type Host struct {
	// session is the primary control connection
	session Session

	// factory creates the primary session and all child sessions with
	// the same connection parameters
	factory SessionFactory

	// pool manages idle child sessions for file streams
	pool *sessionPool

	// cache holds lstat results keyed by absolute path
	cache *StatCache

	// engine implements stat, lstat, and listdir over listings
	engine *statEngine

	// logger is used for debug logging
	logger *slog.Logger

	// now is the clock; replaceable in tests
	now func() time.Time

	// enc decodes and encodes byte paths; nil when the session has no
	// declared encoding
	enc     encoding.Encoding
	encName string

	// curDir is the cached current remote directory (absolute,
	// normalized); loginDir is where the server placed us at login
	curDir   string
	loginDir string

	// timeShift is "server time - UTC"; timeShiftSet records whether
	// it was ever established
	timeShift    time.Duration
	timeShiftSet bool

	// UseListAOption makes listings use "LIST -a" so hidden entries
	// are included. Off by default: servers that don't understand the
	// option may interpret "-a" as a path.
	UseListAOption bool

	pinnedParser Parser
	closed       bool

	// cache configuration recorded by options before the cache exists
	pendingCacheSize   int
	pendingCacheMaxAge time.Duration
	pendingCacheOff    bool
}

// Connect creates a session via the factory, captures the login
// directory, autodetects a directory parser from the login directory's
// listing, and returns a connected host.
//
// Example:
//
//	host, err := ftpfs.Connect(ftpsession.Factory("ftp.example.com:21", "user", "password"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close()
//
//	names, err := host.Listdir("/pub")
func Connect(factory SessionFactory, options ...Option) (*Host, error) {
	h := &Host{
		factory: factory,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	session, err := factory()
	if err != nil {
		return nil, fmt.Errorf("session factory failed: %w", err)
	}
	h.session = session
	h.encName = session.Encoding()
	if h.encName != "" {
		h.enc, err = encodingByName(h.encName)
		if err != nil {
			session.Close()
			return nil, err
		}
	}
	pwd, err := session.Pwd()
	if err != nil {
		session.Close()
		return nil, err
	}
	h.curDir = ftppath.Clean(pwd)
	if !ftppath.IsAbs(h.curDir) {
		// Some servers report the login directory without a leading
		// slash; anchor it so path resolution has an absolute base.
		h.curDir = ftppath.Clean("/" + pwd)
	}
	h.loginDir = h.curDir
	h.pool = newSessionPool(factory, h.logger)
	h.cache = newStatCache(h.now)
	if h.pendingCacheSize > 0 {
		h.cache.SetSizeLimit(h.pendingCacheSize)
	}
	if h.pendingCacheMaxAge > 0 {
		h.cache.SetMaxAge(h.pendingCacheMaxAge)
	}
	if h.pendingCacheOff {
		h.cache.Disable()
	}
	h.engine = newStatEngine(h)
	if h.pinnedParser != nil {
		h.engine.parser = h.pinnedParser
		h.engine.allowSwitch = false
	} else {
		h.engine.detect(h.loginDir)
	}
	return h, nil
}

// checkOpen returns ErrClosed if the host was closed.
func (h *Host) checkOpen() error {
	if h.closed {
		return ErrClosed
	}
	return nil
}

// Getwd returns the cached current remote directory. The value is
// absolute and normalized; no server round trip happens.
func (h *Host) Getwd() (string, error) {
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	return h.curDir, nil
}

// Chdir changes the current remote directory. The primary session's
// working directory persists until the next Chdir or Close.
func (h *Host) Chdir(path string) error {
	if err := h.checkOpen(); err != nil {
		return pathError("chdir", path, err)
	}
	if err := h.session.Cwd(path); err != nil {
		return pathError("chdir", path, err)
	}
	h.curDir = ftppath.Clean(ftppath.Join(h.curDir, path))
	return nil
}

// Abs returns the absolute normalized form of the path, resolved
// against the host's cached current directory.
func (h *Host) Abs(path string) string {
	return h.abs(path)
}

func (h *Host) abs(path string) string {
	if !ftppath.IsAbs(path) {
		path = ftppath.Join(h.curDir, path)
	}
	return ftppath.Clean(path)
}

// KeepAlive issues a cheap command on the primary session to keep the
// control connection from timing out. Child sessions in the pool time
// out independently; they are detected and discarded on reuse.
//
// This won't help once the connection has already timed out; in that
// case KeepAlive returns the error of the failed command.
func (h *Host) KeepAlive() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	_, err := h.session.Pwd()
	return err
}

// SetParser installs a fixed directory parser and disables
// autodetection. The stat cache is cleared since its entries were
// produced by the previous parser.
func (h *Host) SetParser(p Parser) {
	h.engine.parser = p
	h.engine.allowSwitch = false
	h.cache.Clear()
}

// StatCache returns the host's stat cache for configuration and
// explicit invalidation.
func (h *Host) StatCache() *StatCache {
	return h.cache
}

// Close tears down the host: all pooled child sessions, the primary
// session, and the stat cache. Close is idempotent; after it, every
// operation fails with ErrClosed.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	var errs *multierror.Error
	if err := h.pool.CloseAll(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := h.session.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	h.cache.Clear()
	h.closed = true
	return errs.ErrorOrNil()
}

// checkLoginDir verifies that the current directory is still
// accessible. The directory-descending commands below restore the
// working directory afterwards; if we can't even change into the
// current directory, bail out rather than end up somewhere
// unrecoverable.
func (h *Host) checkLoginDir() error {
	if err := h.session.Cwd(h.curDir); err != nil {
		if IsPermanent(err) {
			return fmt.Errorf("%w: %s", ErrInaccessibleLoginDir, h.curDir)
		}
		return err
	}
	return nil
}

// robustCommand runs fn against the directory containing path. Some
// servers misbehave when the directory portion of a command argument
// contains whitespace, or when the command isn't executed in the
// current directory, so we descend first and run the command on the
// base name only. With deep set, we descend into path itself and run
// fn with an empty argument.
func (h *Host) robustCommand(path string, deep bool, fn func(s Session, arg string) error) error {
	if err := h.checkLoginDir(); err != nil {
		return err
	}
	oldDir := h.curDir
	restore := func() error {
		return h.session.Cwd(oldDir)
	}
	if deep {
		if err := h.session.Cwd(path); err != nil {
			return err
		}
		err := fn(h.session, "")
		if rerr := restore(); rerr != nil && err == nil {
			err = rerr
		}
		return err
	}
	head, tail := ftppath.Split(path)
	if head == "" {
		head = "."
	}
	if err := h.session.Cwd(head); err != nil {
		return err
	}
	err := fn(h.session, tail)
	if rerr := restore(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// dirLines fetches the raw LIST output for the directory at path.
func (h *Host) dirLines(path string) ([]string, error) {
	var lines []string
	err := h.robustCommand(path, true, func(s Session, arg string) error {
		collect := func(line string) {
			lines = append(lines, line)
		}
		// Listing with an empty path avoids recursive listings some
		// servers produce for a dot argument.
		if h.UseListAOption {
			return s.Dir(collect, "-a", arg)
		}
		return s.Dir(collect, arg)
	})
	if err != nil {
		return nil, err
	}
	h.logger.Debug("fetched directory listing", "path", path, "lines", len(lines))
	return lines, nil
}
