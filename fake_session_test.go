package ftpfs

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gonzalop/ftpfs/ftppath"
)

// fakeServer is the shared state behind the scripted sessions used in
// tests: a tree of directories and files, raw listing overrides, and
// canned error replies per command verb.
type fakeServer struct {
	loginDir string
	encoding string

	// tree maps absolute directory paths to their entries
	tree map[string][]*fakeEntry

	// rawListings overrides the synthesized listing of a directory
	rawListings map[string][]string

	// replies maps command prefixes (e.g. "SITE CHMOD") to canned
	// errors
	replies map[string]error

	// voidRespErr is returned by the next VoidResp calls
	voidRespErr error

	// onStore, if set, runs after a STOR data connection closes;
	// otherwise the stored file is added with a default listing date
	onStore func(dir, name string, data []byte)

	commands     []string
	listCalls    int
	sessionsMade int
}

type fakeEntry struct {
	name    string
	dir     bool
	link    string
	size    int64
	date    string // listing date portion, e.g. "Jan 02 2020"
	content []byte
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		loginDir:    "/home/user",
		encoding:    "latin-1",
		tree:        map[string][]*fakeEntry{"/home/user": {}, "/home": {{name: "user", dir: true, date: "Jan 02 2020"}}, "/": {{name: "home", dir: true, date: "Jan 02 2020"}}},
		rawListings: map[string][]string{},
		replies:     map[string]error{},
	}
}

// addFile registers a regular file with content under the absolute
// directory dir.
func (srv *fakeServer) addFile(dir, name, date string, content []byte) {
	srv.tree[dir] = append(srv.tree[dir], &fakeEntry{
		name: name, date: date, size: int64(len(content)), content: content,
	})
}

// addDir registers a subdirectory of dir and makes it listable.
func (srv *fakeServer) addDir(dir, name, date string) {
	srv.tree[dir] = append(srv.tree[dir], &fakeEntry{name: name, dir: true, date: date})
	full := ftppath.Clean(ftppath.Join(dir, name))
	if _, ok := srv.tree[full]; !ok {
		srv.tree[full] = []*fakeEntry{}
	}
}

// addLink registers a symlink in dir pointing at target.
func (srv *fakeServer) addLink(dir, name, target, date string) {
	srv.tree[dir] = append(srv.tree[dir], &fakeEntry{name: name, link: target, date: date, size: int64(len(target))})
}

// resolve follows symlink entries in the path the way a server's CWD
// would, bounded against link loops.
func (srv *fakeServer) resolve(abs string) string {
	for hops := 0; hops < 10; hops++ {
		if _, ok := srv.tree[abs]; ok {
			return abs
		}
		entry := srv.find(abs)
		if entry == nil || entry.link == "" {
			return abs
		}
		dir, _ := ftppath.Split(abs)
		next := entry.link
		if !ftppath.IsAbs(next) {
			next = ftppath.Join(dir, next)
		}
		abs = ftppath.Clean(next)
	}
	return abs
}

func (srv *fakeServer) isDir(abs string) bool {
	abs = srv.resolve(abs)
	_, ok := srv.tree[abs]
	if ok {
		return true
	}
	_, ok = srv.rawListings[abs]
	return ok
}

func (srv *fakeServer) lines(abs string) ([]string, bool) {
	abs = srv.resolve(abs)
	if raw, ok := srv.rawListings[abs]; ok {
		return raw, true
	}
	entries, ok := srv.tree[abs]
	if !ok {
		return nil, false
	}
	var lines []string
	for _, e := range entries {
		lines = append(lines, e.line())
	}
	return lines, true
}

func (e *fakeEntry) line() string {
	switch {
	case e.dir:
		return fmt.Sprintf("drwxr-xr-x   2 user     group    %8d %s %s", 4096, e.date, e.name)
	case e.link != "":
		return fmt.Sprintf("lrwxrwxrwx   1 user     group    %8d %s %s -> %s", e.size, e.date, e.name, e.link)
	default:
		return fmt.Sprintf("-rw-r--r--   1 user     group    %8d %s %s", e.size, e.date, e.name)
	}
}

func (srv *fakeServer) find(abs string) *fakeEntry {
	dir, base := ftppath.Split(abs)
	for _, e := range srv.tree[dir] {
		if e.name == base {
			return e
		}
	}
	return nil
}

func (srv *fakeServer) removeEntry(abs string) bool {
	dir, base := ftppath.Split(abs)
	entries := srv.tree[dir]
	for i, e := range entries {
		if e.name == base {
			srv.tree[dir] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// factory returns a SessionFactory producing sessions bound to this
// server.
func (srv *fakeServer) factory() SessionFactory {
	return func() (Session, error) {
		srv.sessionsMade++
		return &fakeSession{srv: srv, cwd: srv.loginDir}, nil
	}
}

// fakeSession implements Session against a fakeServer. Each session
// tracks its own working directory, like a real control connection.
type fakeSession struct {
	srv    *fakeServer
	cwd    string
	closed bool

	// pwdErr simulates a timed-out connection: the next Pwd fails
	pwdErr error
}

func (s *fakeSession) abs(path string) string {
	if path == "" {
		return s.cwd
	}
	if !ftppath.IsAbs(path) {
		path = ftppath.Join(s.cwd, path)
	}
	return ftppath.Clean(path)
}

func (s *fakeSession) canned(cmd string) (error, bool) {
	for prefix, err := range s.srv.replies {
		if strings.HasPrefix(cmd, prefix) {
			return err, true
		}
	}
	return nil, false
}

func (s *fakeSession) log(cmd string) error {
	s.srv.commands = append(s.srv.commands, cmd)
	if err, ok := s.canned(cmd); ok {
		return err
	}
	return nil
}

func (s *fakeSession) Pwd() (string, error) {
	if err := s.log("PWD"); err != nil {
		return "", err
	}
	if s.pwdErr != nil {
		return "", s.pwdErr
	}
	return s.cwd, nil
}

func (s *fakeSession) Cwd(path string) error {
	if err := s.log("CWD " + path); err != nil {
		return err
	}
	abs := s.abs(path)
	if !s.srv.isDir(abs) {
		return &StatusError{Command: "CWD", Code: 550, Message: abs + ": no such directory"}
	}
	s.cwd = abs
	return nil
}

func (s *fakeSession) Mkd(path string) error {
	if err := s.log("MKD " + path); err != nil {
		return err
	}
	abs := s.abs(path)
	dir, base := ftppath.Split(abs)
	if !s.srv.isDir(dir) || s.srv.isDir(abs) {
		return &StatusError{Command: "MKD", Code: 550, Message: abs + ": cannot create directory"}
	}
	s.srv.addDir(dir, base, "Jan 02 2020")
	return nil
}

func (s *fakeSession) Rmd(path string) error {
	if err := s.log("RMD " + path); err != nil {
		return err
	}
	abs := s.abs(path)
	if entries, ok := s.srv.tree[abs]; !ok || len(entries) > 0 {
		return &StatusError{Command: "RMD", Code: 550, Message: abs + ": cannot remove"}
	}
	delete(s.srv.tree, abs)
	s.srv.removeEntry(abs)
	return nil
}

func (s *fakeSession) Dele(path string) error {
	if err := s.log("DELE " + path); err != nil {
		return err
	}
	abs := s.abs(path)
	if !s.srv.removeEntry(abs) {
		return &StatusError{Command: "DELE", Code: 550, Message: abs + ": no such file"}
	}
	return nil
}

func (s *fakeSession) Rename(from, to string) error {
	if err := s.log("RNFR " + from); err != nil {
		return err
	}
	absFrom, absTo := s.abs(from), s.abs(to)
	entry := s.srv.find(absFrom)
	if entry == nil {
		return &StatusError{Command: "RNFR", Code: 550, Message: absFrom + ": no such file"}
	}
	s.srv.removeEntry(absFrom)
	dir, base := ftppath.Split(absTo)
	entry.name = base
	s.srv.tree[dir] = append(s.srv.tree[dir], entry)
	return nil
}

func (s *fakeSession) VoidCmd(cmd string) error {
	return s.log(cmd)
}

func (s *fakeSession) VoidResp() error {
	if err := s.srv.voidRespErr; err != nil {
		s.srv.voidRespErr = nil
		return err
	}
	return nil
}

func (s *fakeSession) Dir(fn func(line string), args ...string) error {
	path := ""
	for _, arg := range args {
		if arg != "-a" {
			path = arg
		}
	}
	if err := s.log(strings.TrimSpace("LIST " + strings.Join(args, " "))); err != nil {
		return err
	}
	s.srv.listCalls++
	lines, ok := s.srv.lines(s.abs(path))
	if !ok {
		return &StatusError{Command: "LIST", Code: 550, Message: "no such directory"}
	}
	for _, line := range lines {
		fn(line)
	}
	return nil
}

func (s *fakeSession) TransferCmd(cmd string, rest int64) (io.ReadWriteCloser, error) {
	if err := s.log(cmd); err != nil {
		return nil, err
	}
	verb, name, ok := strings.Cut(cmd, " ")
	if !ok {
		return nil, &StatusError{Command: cmd, Code: 500, Message: "bad command"}
	}
	abs := s.abs(name)
	switch verb {
	case "RETR":
		entry := s.srv.find(abs)
		if entry == nil || entry.dir {
			return nil, &StatusError{Command: "RETR", Code: 550, Message: abs + ": no such file"}
		}
		content := entry.content
		if rest > 0 {
			if rest > int64(len(content)) {
				rest = int64(len(content))
			}
			content = content[rest:]
		}
		return &fakeDataConn{r: bytes.NewReader(content)}, nil
	case "STOR":
		buf := &bytes.Buffer{}
		return &fakeDataConn{w: buf, onClose: func() {
			dir, base := ftppath.Split(abs)
			data := buf.Bytes()
			if s.srv.onStore != nil {
				s.srv.onStore(dir, base, data)
				return
			}
			s.srv.removeEntry(abs)
			s.srv.addFile(dir, base, "Jan 02 2020", data)
		}}, nil
	default:
		return nil, &StatusError{Command: cmd, Code: 502, Message: "not implemented"}
	}
}

func (s *fakeSession) Encoding() string {
	return s.srv.encoding
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeDataConn is the byte channel handed out by TransferCmd.
type fakeDataConn struct {
	r       *bytes.Reader
	w       *bytes.Buffer
	onClose func()
	closed  bool
}

func (c *fakeDataConn) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, io.EOF
	}
	return c.r.Read(p)
}

func (c *fakeDataConn) Write(p []byte) (int, error) {
	if c.w == nil {
		return 0, io.ErrClosedPipe
	}
	return c.w.Write(p)
}

func (c *fakeDataConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}
