// Package ftpsession implements the wire-level FTP session used by
// ftpfs by default: one control connection with optional TLS, passive
// data channels, and timeouts on every socket operation.
//
// The package satisfies the ftpfs.Session contract; hosts are usually
// constructed with Factory:
//
//	host, err := ftpfs.Connect(ftpsession.Factory("ftp.example.com:21", "user", "password"))
package ftpsession

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gonzalop/ftpfs"
)

// Session is a wire-level FTP client wrapping one control connection.
// It implements ftpfs.Session.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	dialer *net.Dialer

	host string
	port string

	timeout     time.Duration
	logger      *slog.Logger
	encoding    string
	disableEPSV bool

	// tlsConfig is non-nil once the control connection runs TLS; data
	// connections are then wrapped with the same configuration so TLS
	// sessions can be reused.
	tlsConfig   *tls.Config
	explicitTLS bool

	// currentType avoids redundant TYPE commands
	currentType string
}

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the timeout applied to dialing and to every
// socket read and write. The default is 30 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.timeout = timeout
		return nil
	}
}

// WithLogger enables debug logging of commands and replies.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

// WithExplicitTLS upgrades the control connection with AUTH TLS right
// after the greeting and protects the data channel with PROT P. The
// configuration should carry the ServerName for certificate
// validation; a session cache is added if missing so data connections
// can resume the control connection's TLS session.
func WithExplicitTLS(config *tls.Config) Option {
	return func(s *Session) error {
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		s.tlsConfig = config
		s.explicitTLS = true
		return nil
	}
}

// WithEncoding declares the path encoding the session uses on the
// wire. The default is "latin-1", which passes bytes through
// unaltered. An empty name declares no encoding; byte paths can't be
// used with such sessions.
func WithEncoding(name string) Option {
	return func(s *Session) error {
		s.encoding = name
		return nil
	}
}

// WithDisableEPSV forces PASV for data connections instead of trying
// EPSV first. Useful for servers or firewalls that mishandle EPSV.
func WithDisableEPSV() Option {
	return func(s *Session) error {
		s.disableEPSV = true
		return nil
	}
}

// Factory returns an ftpfs.SessionFactory that dials addr and logs in
// with the given credentials on every call. The ftpfs host invokes it
// once for its primary connection and once per concurrently open file
// stream.
//
// Example:
//
//	factory := ftpsession.Factory("ftp.example.com:21", "user", "password",
//	    ftpsession.WithTimeout(10*time.Second),
//	)
//	host, err := ftpfs.Connect(factory)
func Factory(addr, user, password string, options ...Option) ftpfs.SessionFactory {
	return func() (ftpfs.Session, error) {
		s, err := Dial(addr, options...)
		if err != nil {
			return nil, err
		}
		if err := s.Login(user, password); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

// Dial connects to the FTP server at addr ("host:port") and consumes
// the greeting. The session is not logged in yet.
func Dial(addr string, options ...Option) (*Session, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	s := &Session{
		host:     host,
		port:     port,
		timeout:  30 * time.Second,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		encoding: ftpfs.DefaultPathEncoding,
		dialer:   &net.Dialer{},
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	s.dialer.Timeout = s.timeout
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect establishes the control connection and handles the greeting
// and the optional TLS upgrade.
func (s *Session) connect() error {
	addr := net.JoinHostPort(s.host, s.port)
	s.logger.Debug("connecting to ftp server", "addr", addr)
	conn, err := s.dialer.Dial("tcp", addr)
	if err != nil {
		return socketError("CONNECT", err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	resp, err := s.readReply("CONNECT")
	if err != nil {
		conn.Close()
		return err
	}
	if resp.code != 220 {
		conn.Close()
		return s.statusError("CONNECT", resp)
	}
	if s.explicitTLS {
		if err := s.upgradeToTLS(); err != nil {
			conn.Close()
			return err
		}
	}
	return nil
}

// upgradeToTLS switches the control connection to TLS via AUTH TLS
// and protects the data channel.
func (s *Session) upgradeToTLS() error {
	if _, err := s.expectCode(234, "AUTH TLS"); err != nil {
		return err
	}
	tlsConn := tls.Client(s.conn, s.tlsConfig)
	if s.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	if _, err := s.expectCode(200, "PBSZ 0"); err != nil {
		return err
	}
	if _, err := s.expectCode(200, "PROT P"); err != nil {
		return err
	}
	return nil
}

// Login authenticates with the given username and password.
func (s *Session) Login(username, password string) error {
	resp, err := s.sendCommand("USER " + username)
	if err != nil {
		return err
	}
	// 230 means no password is required.
	if resp.code == 230 {
		return nil
	}
	if resp.code != 331 {
		return s.statusError("USER", resp)
	}
	_, err = s.expectCode(230, "PASS "+password)
	return err
}

//
// ftpfs.Session implementation
//

// Pwd returns the current remote working directory.
func (s *Session) Pwd() (string, error) {
	resp, err := s.expect2xx("PWD")
	if err != nil {
		return "", err
	}
	// Reply form: 257 "/home/user" is the current directory
	start := strings.Index(resp.message, `"`)
	if start == -1 {
		return "", fmt.Errorf("invalid PWD reply: %s", resp.message)
	}
	end := strings.Index(resp.message[start+1:], `"`)
	if end == -1 {
		return "", fmt.Errorf("invalid PWD reply: %s", resp.message)
	}
	return resp.message[start+1 : start+1+end], nil
}

// Cwd changes the remote working directory.
func (s *Session) Cwd(path string) error {
	_, err := s.expect2xx("CWD " + path)
	return err
}

// Mkd creates a remote directory.
func (s *Session) Mkd(path string) error {
	_, err := s.expect2xx("MKD " + path)
	return err
}

// Rmd removes an empty remote directory.
func (s *Session) Rmd(path string) error {
	_, err := s.expect2xx("RMD " + path)
	return err
}

// Dele removes a remote file.
func (s *Session) Dele(path string) error {
	_, err := s.expect2xx("DELE " + path)
	return err
}

// Rename renames a remote file or directory.
func (s *Session) Rename(from, to string) error {
	resp, err := s.sendCommand("RNFR " + from)
	if err != nil {
		return err
	}
	if resp.code != 350 {
		return s.statusError("RNFR", resp)
	}
	_, err = s.expect2xx("RNTO " + to)
	return err
}

// VoidCmd sends a raw command line and expects a 2xx reply.
func (s *Session) VoidCmd(cmd string) error {
	_, err := s.expect2xx(cmd)
	return err
}

// VoidResp reads one pending reply and expects it to be 2xx. Transfer
// completion replies (226) are collected this way.
func (s *Session) VoidResp() error {
	resp, err := s.readReply("VOIDRESP")
	if err != nil {
		return err
	}
	if !resp.is2xx() {
		return s.statusError("VOIDRESP", resp)
	}
	return nil
}

// Dir runs LIST with the given arguments and delivers each raw line
// of the listing to fn. Empty arguments are skipped, so the host can
// pass an empty path to list the current directory.
func (s *Session) Dir(fn func(line string), args ...string) error {
	if err := s.setType("A"); err != nil {
		return err
	}
	cmd := "LIST"
	for _, arg := range args {
		if arg != "" {
			cmd += " " + arg
		}
	}
	conn, err := s.openDataConn(cmd)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	scanErr := scanner.Err()
	if err := conn.Close(); err != nil && scanErr == nil {
		scanErr = err
	}
	if err := s.VoidResp(); err != nil && scanErr == nil {
		scanErr = err
	}
	if scanErr != nil {
		return socketError(cmd, scanErr)
	}
	return nil
}

// TransferCmd issues a data-channel command in binary mode and
// returns the open data connection. A non-negative rest restarts the
// transfer at that offset. The caller closes the connection and then
// collects the completion reply with VoidResp.
func (s *Session) TransferCmd(cmd string, rest int64) (io.ReadWriteCloser, error) {
	if err := s.setType("I"); err != nil {
		return nil, err
	}
	if rest >= 0 {
		resp, err := s.sendCommand(fmt.Sprintf("REST %d", rest))
		if err != nil {
			return nil, err
		}
		if resp.code != 350 {
			return nil, s.statusError("REST", resp)
		}
	}
	return s.openDataConn(cmd)
}

// Encoding reports the declared path encoding.
func (s *Session) Encoding() string {
	return s.encoding
}

// Close sends QUIT and tears down the control connection.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	// Best effort; the server may already be gone.
	_, _ = s.sendCommand("QUIT")
	err := s.conn.Close()
	s.conn = nil
	return err
}

// setType switches the transfer type, skipping the command if the
// type is already current.
func (s *Session) setType(transferType string) error {
	if s.currentType == transferType {
		return nil
	}
	if _, err := s.expectCode(200, "TYPE "+transferType); err != nil {
		return err
	}
	s.currentType = transferType
	return nil
}

//
// Command plumbing
//

// sendCommand writes one command line and reads the reply.
func (s *Session) sendCommand(cmd string) (*response, error) {
	s.logger.Debug("ftp command", "cmd", redactCommand(cmd))
	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, socketError(cmd, err)
		}
	}
	if _, err := fmt.Fprintf(s.conn, "%s\r\n", cmd); err != nil {
		return nil, socketError(cmd, err)
	}
	return s.readReply(cmd)
}

// readReply reads one reply, applying the session timeout.
func (s *Session) readReply(cmd string) (*response, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, socketError(cmd, err)
		}
	}
	resp, err := readResponse(s.reader)
	if err != nil {
		return nil, socketError(cmd, err)
	}
	s.logger.Debug("ftp reply", "code", resp.code, "message", resp.message)
	return resp, nil
}

// expectCode sends a command and verifies the reply code.
func (s *Session) expectCode(code int, cmd string) (*response, error) {
	resp, err := s.sendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if resp.code != code {
		return resp, s.statusError(cmd, resp)
	}
	return resp, nil
}

// expect2xx sends a command and verifies the reply is a success.
func (s *Session) expect2xx(cmd string) (*response, error) {
	resp, err := s.sendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.is2xx() {
		return resp, s.statusError(cmd, resp)
	}
	return resp, nil
}

// statusError converts a failure reply to the ftpfs error taxonomy.
func (s *Session) statusError(cmd string, resp *response) error {
	return &ftpfs.StatusError{
		Command: commandVerb(cmd),
		Code:    resp.code,
		Message: resp.message,
	}
}

// socketError wraps a transport failure. The zero code classifies it
// as temporary in the ftpfs taxonomy; the original error stays
// reachable through errors.As (e.g. for net.Error timeouts).
func socketError(cmd string, err error) error {
	if err == nil {
		return nil
	}
	var se *ftpfs.StatusError
	if errors.As(err, &se) {
		return err
	}
	return &ftpfs.StatusError{
		Command: commandVerb(cmd),
		Code:    0,
		Message: err.Error(),
		Err:     err,
	}
}

// commandVerb strips arguments so credentials and paths don't end up
// in error messages verbatim.
func commandVerb(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

// redactCommand hides the password argument of PASS in debug logs.
func redactCommand(cmd string) string {
	if strings.HasPrefix(cmd, "PASS ") {
		return "PASS ****"
	}
	return cmd
}
