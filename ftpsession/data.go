package ftpsession

import (
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	// pasvRegexp matches the PASV reply payload: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegexp = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

	// epsvRegexp matches the EPSV reply payload: 229 Entering Extended Passive Mode (|||port|)
	epsvRegexp = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASV extracts the data channel address from a PASV reply.
// Example: "Entering Passive Mode (192,168,1,1,195,149)" yields
// "192.168.1.1:50069".
func parsePASV(message string) (string, error) {
	matches := pasvRegexp.FindStringSubmatch(message)
	if len(matches) != 7 {
		return "", fmt.Errorf("invalid PASV reply: %s", message)
	}
	var h [4]int
	for i := 0; i < 4; i++ {
		val, err := strconv.Atoi(matches[i+1])
		if err != nil || val < 0 || val > 255 {
			return "", fmt.Errorf("invalid PASV address part: %s", matches[i+1])
		}
		h[i] = val
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])
	p1, err1 := strconv.Atoi(matches[5])
	p2, err2 := strconv.Atoi(matches[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port parts: %s, %s", matches[5], matches[6])
	}
	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

// parseEPSV extracts the data channel port from an EPSV reply.
// Example: "Entering Extended Passive Mode (|||6446|)" yields "6446".
func parseEPSV(message string) (string, error) {
	matches := epsvRegexp.FindStringSubmatch(message)
	if len(matches) != 2 {
		return "", fmt.Errorf("invalid EPSV reply: %s", message)
	}
	port, err := strconv.Atoi(matches[1])
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", matches[1])
	}
	return matches[1], nil
}

// dataConnAddr negotiates a passive data connection and returns the
// address to dial: EPSV first unless disabled, PASV as fallback.
func (s *Session) dataConnAddr() (string, error) {
	if !s.disableEPSV {
		resp, err := s.sendCommand("EPSV")
		if err == nil && resp.code == 229 {
			port, perr := parseEPSV(resp.message)
			if perr == nil {
				return net.JoinHostPort(s.host, port), nil
			}
		}
	}
	resp, err := s.expectCode(227, "PASV")
	if err != nil {
		return "", err
	}
	return parsePASV(resp.message)
}

// openDataConn negotiates a data connection, dials it, and sends the
// given data-channel command on the control connection. The returned
// connection is TLS-wrapped if the control connection is, and applies
// the session timeout to every read and write.
func (s *Session) openDataConn(cmd string) (net.Conn, error) {
	addr, err := s.dataConnAddr()
	if err != nil {
		return nil, err
	}
	conn, err := s.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, socketError(cmd, err)
	}
	if s.tlsConfig != nil {
		conn = tls.Client(conn, s.tlsConfig)
	}
	resp, err := s.sendCommand(cmd)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// 125/150 announce the transfer; some servers reply 2xx for
	// zero-byte cases.
	if !resp.is1xx() && !resp.is2xx() {
		conn.Close()
		return nil, s.statusError(cmd, resp)
	}
	return &deadlineConn{Conn: conn, timeout: s.timeout}, nil
}

// deadlineConn applies a fresh deadline before every read and write so
// a stalled transfer fails after the session timeout instead of
// hanging forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
