package ftpfs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/gonzalop/ftpfs/ftppath"
)

// openConfig collects the options of Host.Open.
type openConfig struct {
	mode     string
	rest     int64
	enc      encoding.Encoding
	newline  string
	bufferSz int
}

// OpenOption configures a single Host.Open call.
type OpenOption func(*openConfig) error

// WithMode sets the open mode: "r" or "w" for text streams, "rb" or
// "wb" for binary streams. The default is "r". The aliases "rt" and
// "wt" are accepted. Append modes are not supported.
func WithMode(mode string) OpenOption {
	return func(cfg *openConfig) error {
		cfg.mode = mode
		return nil
	}
}

// WithRest pre-positions the transfer at the given non-negative byte
// offset: reading starts there, writing overwrites the remote file
// from there. Only valid for binary streams.
func WithRest(offset int64) OpenOption {
	return func(cfg *openConfig) error {
		if offset < 0 {
			return fmt.Errorf("negative rest offset %d", offset)
		}
		cfg.rest = offset
		return nil
	}
}

// WithTextEncoding sets the character encoding of a text stream, e.g.
// charmap.ISO8859_1. Without it, text streams pass bytes through as
// UTF-8. Not allowed for binary streams.
func WithTextEncoding(enc encoding.Encoding) OpenOption {
	return func(cfg *openConfig) error {
		cfg.enc = enc
		return nil
	}
}

// WithNewline sets the line terminator written for each "\n" in a
// text stream opened for writing, e.g. "\r\n". By default lines are
// written unchanged. Reading always translates "\r\n" and lone "\r"
// to "\n".
func WithNewline(newline string) OpenOption {
	return func(cfg *openConfig) error {
		cfg.newline = newline
		return nil
	}
}

// WithBufferSize sets the stream's buffer size in bytes.
func WithBufferSize(n int) OpenOption {
	return func(cfg *openConfig) error {
		if n < 1 {
			return fmt.Errorf("invalid buffer size %d", n)
		}
		cfg.bufferSz = n
		return nil
	}
}

// File is a file-like stream over a data-channel transfer. It reads
// or writes, never both: the direction is fixed by the open mode.
//
// The stream exclusively borrows a child session from the host's
// pool; Close returns the session, so streams must always be closed,
// on error paths too. Iterating over lines works by wrapping the file
// in a bufio.Scanner.
type File struct {
	host    *Host
	session Session
	conn    io.ReadWriteCloser

	r io.Reader // read stack, nil for write streams
	w io.Writer // write stack, nil for read streams

	// flush-on-close layers of the write stack, innermost last
	tw *transform.Writer
	bw *bufio.Writer

	name     string
	readMode bool
	closed   bool
}

// Open returns a stream over the remote file at path. The mode and
// stream options are given as OpenOption values; the zero set opens
// for reading in text mode.
//
// Example:
//
//	f, err := host.Open("logs/app.log", ftpfs.WithMode("rb"))
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	data, err := io.ReadAll(f)
//
// Opening for writing invalidates the path's stat cache entry, since
// size and timestamp are about to change.
func (h *Host) Open(path string, options ...OpenOption) (*File, error) {
	if err := h.checkOpen(); err != nil {
		return nil, pathError("open", path, err)
	}
	cfg := openConfig{mode: "r", rest: -1}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, pathError("open", path, err)
		}
	}
	mode := strings.TrimSuffix(cfg.mode, "t")
	switch mode {
	case "r", "rb", "w", "wb":
	default:
		return nil, pathError("open", path, fmt.Errorf("invalid mode %q", cfg.mode))
	}
	binary := strings.HasSuffix(mode, "b")
	readMode := strings.HasPrefix(mode, "r")
	if !binary && cfg.rest >= 0 {
		// REST offsets count raw bytes; with text decoding in between
		// they wouldn't mean anything.
		return nil, pathError("open", path, fmt.Errorf("rest offset in text mode: %w", ErrNotImplemented))
	}
	if binary && cfg.enc != nil {
		return nil, pathError("open", path, errors.New("encoding not allowed in binary mode"))
	}

	abs := h.abs(path)
	dir, base := ftppath.Split(abs)
	session, err := h.pool.Acquire()
	if err != nil {
		return nil, pathError("open", path, err)
	}
	// Child sessions have their own working directory; descend before
	// every transfer so the command runs on the base name only.
	if err := session.Cwd(dir); err != nil {
		h.pool.Release(session, !isStatusError(err))
		return nil, pathError("open", path, err)
	}
	command := "RETR " + base
	if !readMode {
		command = "STOR " + base
	}
	conn, err := session.TransferCmd(command, cfg.rest)
	if err != nil {
		h.pool.Release(session, !isStatusError(err))
		return nil, pathError("open", path, err)
	}
	if !readMode {
		h.cache.Invalidate(abs)
	}

	f := &File{
		host:     h,
		session:  session,
		conn:     conn,
		name:     abs,
		readMode: readMode,
	}
	bufferSz := cfg.bufferSz
	if bufferSz == 0 {
		bufferSz = 64 * 1024
	}
	if readMode {
		r := io.Reader(bufio.NewReaderSize(conn, bufferSz))
		if !binary {
			if cfg.enc != nil {
				r = transform.NewReader(r, cfg.enc.NewDecoder())
			}
			r = &newlineReader{r: r}
		}
		f.r = r
	} else {
		f.bw = bufio.NewWriterSize(conn, bufferSz)
		w := io.Writer(f.bw)
		if !binary {
			if cfg.enc != nil {
				f.tw = transform.NewWriter(w, cfg.enc.NewEncoder())
				w = f.tw
			}
			if cfg.newline != "" && cfg.newline != "\n" {
				w = &newlineWriter{w: w, newline: []byte(cfg.newline)}
			}
		}
		f.w = w
	}
	h.logger.Debug("opened remote file", "path", abs, "mode", cfg.mode, "rest", cfg.rest)
	return f, nil
}

// Name returns the absolute remote path of the file.
func (f *File) Name() string {
	return f.name
}

// Read implements io.Reader for streams opened for reading.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, pathError("read", f.name, ErrClosed)
	}
	if f.r == nil {
		return 0, pathError("read", f.name, errors.New("file not opened for reading"))
	}
	return f.r.Read(p)
}

// Write implements io.Writer for streams opened for writing.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, pathError("write", f.name, ErrClosed)
	}
	if f.w == nil {
		return 0, pathError("write", f.name, errors.New("file not opened for writing"))
	}
	return f.w.Write(p)
}

// Close flushes and closes the stream, closes the data connection,
// collects the transfer completion reply on the borrowed session, and
// returns the session to the pool. A session whose completion reply
// failed for anything but the benign delayed-completion cases is
// discarded instead of reused. Close is idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	var firstErr error
	if f.tw != nil {
		if err := f.tw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.bw != nil {
		if err := f.bw.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := f.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	errored := firstErr != nil
	if err := f.session.VoidResp(); err != nil {
		if !benignCloseError(err) {
			errored = true
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	f.host.pool.Release(f.session, errored)
	return pathError("close", f.name, firstErr)
}

// benignCloseError reports whether the completion reply failed in one
// of the ways that still mean the transfer completed: a delayed 226
// showing up as a transient status, or a short read timeout while the
// server lags behind.
func benignCloseError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 150, 426, 450, 451:
			return true
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

func isStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// newlineReader translates "\r\n" and lone "\r" to "\n".
type newlineReader struct {
	r     io.Reader
	wasCR bool
}

func (nr *newlineReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := nr.r.Read(p)
		out := 0
		for _, c := range p[:n] {
			switch c {
			case '\r':
				p[out] = '\n'
				out++
				nr.wasCR = true
			case '\n':
				if !nr.wasCR {
					p[out] = '\n'
					out++
				}
				nr.wasCR = false
			default:
				p[out] = c
				out++
				nr.wasCR = false
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
		// Everything collapsed away; read again rather than report
		// zero bytes.
	}
}

// newlineWriter replaces each "\n" with the configured terminator.
type newlineWriter struct {
	w       io.Writer
	newline []byte
}

func (nw *newlineWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			n, err := nw.w.Write(p)
			return written + n, err
		}
		if i > 0 {
			n, err := nw.w.Write(p[:i])
			written += n
			if err != nil {
				return written, err
			}
		}
		if _, err := nw.w.Write(nw.newline); err != nil {
			return written, err
		}
		written++ // the "\n" itself
		p = p[i+1:]
	}
	return written, nil
}
