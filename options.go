package ftpfs

import (
	"fmt"
	"log/slog"
	"time"
)

// Option is a functional option for configuring a Host.
type Option func(*Host) error

// WithLogger enables debug logging using the provided logger. Session
// traffic below the Session interface is not logged here; pass a
// logger to the session factory for that.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	host, _ := ftpfs.Connect(factory, ftpfs.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) error {
		h.logger = logger
		return nil
	}
}

// WithStatCacheSize sets the initial entry limit of the stat cache.
// The default is DefaultCacheSize. Listing a directory with more
// entries still grows the limit so the listing fits.
func WithStatCacheSize(n int) Option {
	return func(h *Host) error {
		if n < 1 {
			return fmt.Errorf("invalid stat cache size %d", n)
		}
		h.pendingCacheSize = n
		return nil
	}
}

// WithStatCacheMaxAge sets the maximum age of stat cache entries.
// By default entries never expire.
func WithStatCacheMaxAge(d time.Duration) Option {
	return func(h *Host) error {
		if d <= 0 {
			return fmt.Errorf("invalid stat cache max age %v", d)
		}
		h.pendingCacheMaxAge = d
		return nil
	}
}

// WithoutStatCache disables the stat cache from the start. Every stat
// then refetches its parent directory's listing.
func WithoutStatCache() Option {
	return func(h *Host) error {
		h.pendingCacheOff = true
		return nil
	}
}

// WithListAOption makes listings use "LIST -a" so entries starting
// with a dot are included. Off by default: a server that doesn't
// understand the option may interpret "-a" as a path.
func WithListAOption() Option {
	return func(h *Host) error {
		h.UseListAOption = true
		return nil
	}
}

// WithParser installs a fixed directory parser and skips
// autodetection.
func WithParser(p Parser) Option {
	return func(h *Host) error {
		h.pinnedParser = p
		return nil
	}
}

// WithClock replaces the host's clock. The clock feeds the year
// heuristic of the Unix listing parser, the stat cache's age policy,
// and time synchronization; tests pin it to get deterministic
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) error {
		h.now = now
		return nil
	}
}
