package ftpfs

import (
	"log/slog"

	"github.com/hashicorp/go-multierror"
)

// sessionPool manages the child sessions that back open file streams.
// Each child is a full control connection created by the host's
// session factory with the original connection parameters, and is
// bound to at most one active stream at a time.
type sessionPool struct {
	factory SessionFactory
	logger  *slog.Logger

	// idle holds released sessions available for reuse; sessions
	// currently bound to a stream live in busy.
	idle []Session
	busy map[Session]bool
}

func newSessionPool(factory SessionFactory, logger *slog.Logger) *sessionPool {
	return &sessionPool{
		factory: factory,
		logger:  logger,
		busy:    make(map[Session]bool),
	}
}

// Acquire returns an idle session or lazily creates a new one. An
// idle session may have been closed by the server in the meantime, so
// it must answer a cheap probe before being reused; sessions that
// fail the probe are discarded. A transfer completion reply arriving
// late would also surface in the probe and likewise discards the
// session instead of confusing a future transfer.
func (p *sessionPool) Acquire() (Session, error) {
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if _, err := s.Pwd(); err != nil {
			p.logger.Debug("discarding stale child session", "error", err)
			s.Close()
			continue
		}
		p.busy[s] = true
		return s, nil
	}
	s, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("created child session")
	p.busy[s] = true
	return s, nil
}

// Release returns a session to the idle set. A session observed to
// have errored is closed and dropped instead of being reused.
func (p *sessionPool) Release(s Session, errored bool) {
	delete(p.busy, s)
	if errored {
		p.logger.Debug("dropping errored child session")
		s.Close()
		return
	}
	p.idle = append(p.idle, s)
}

// CloseAll closes every pooled session, idle and busy.
func (p *sessionPool) CloseAll() error {
	var errs *multierror.Error
	for _, s := range p.idle {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	p.idle = nil
	for s := range p.busy {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	clear(p.busy)
	return errs.ErrorOrNil()
}
