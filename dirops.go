package ftpfs

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/gonzalop/ftpfs/ftppath"
)

// Mkdir creates the directory at path on the remote host.
func (h *Host) Mkdir(path string) error {
	if err := h.checkOpen(); err != nil {
		return pathError("mkdir", path, err)
	}
	abs := h.abs(path)
	err := h.robustCommand(abs, false, func(s Session, arg string) error {
		return s.Mkd(arg)
	})
	if err != nil {
		return pathError("mkdir", path, err)
	}
	h.cache.Invalidate(abs)
	return nil
}

// MkdirAll creates the directory at path together with any missing
// parents. If the leaf directory already exists, an error matching
// fs.ErrExist is returned unless existOK is set.
func (h *Host) MkdirAll(path string, existOK bool) error {
	if err := h.checkOpen(); err != nil {
		return pathError("mkdir", path, err)
	}
	abs := h.abs(path)
	components := strings.Split(abs, "/")
	oldDir := h.curDir
	defer func() {
		_ = h.Chdir(oldDir)
	}()
	// Build the chain from the uppermost to the lowermost directory.
	// Listing a parent can't tell us whether a directory exists on
	// servers with virtual directories, so probe by changing into it.
	for i := 1; i < len(components); i++ {
		next := "/" + ftppath.Join(components[1:i+1]...)
		err := h.Chdir(next)
		if err == nil {
			if i == len(components)-1 && !existOK {
				return pathError("mkdir", path, fs.ErrExist)
			}
			continue
		}
		if !IsPermanent(err) {
			return err
		}
		// Directory presumably doesn't exist.
		if mkErr := h.Mkdir(next); mkErr != nil {
			// Re-raise only if the directory didn't appear in the
			// meantime; otherwise something went really wrong, e.g. a
			// regular file with the directory's name.
			isDir, dirErr := h.IsDir(next)
			if dirErr != nil {
				return dirErr
			}
			if !isDir {
				return mkErr
			}
		}
	}
	return nil
}

// Rmdir removes the empty directory at path. Removing a non-empty
// directory is refused; use RemoveTree for trees.
func (h *Host) Rmdir(path string) error {
	if err := h.checkOpen(); err != nil {
		return pathError("rmdir", path, err)
	}
	abs := h.abs(path)
	names, err := h.Listdir(abs)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return pathError("rmdir", path, &StatusError{
			Command: "RMD", Code: 550, Message: abs + ": directory not empty",
		})
	}
	err = h.robustCommand(abs, false, func(s Session, arg string) error {
		return s.Rmd(arg)
	})
	if err != nil {
		return pathError("rmdir", path, err)
	}
	h.cache.Invalidate(abs)
	return nil
}

// RemoveTree removes the possibly non-empty directory tree at path.
//
// With ignoreErrors, failures along the way are discarded. With a
// non-nil onError, each failure is reported as (operation, path,
// error) and the traversal continues. Otherwise the first failure
// aborts the traversal and is returned.
func (h *Host) RemoveTree(path string, ignoreErrors bool, onError func(op, path string, err error)) error {
	if err := h.checkOpen(); err != nil {
		return pathError("rmtree", path, err)
	}
	report := func(op, p string, err error) error {
		if ignoreErrors {
			return nil
		}
		if onError != nil {
			onError(op, p, err)
			return nil
		}
		return err
	}
	var names []string
	if listed, err := h.Listdir(path); err != nil {
		if rerr := report("listdir", path, err); rerr != nil {
			return rerr
		}
	} else {
		names = listed
	}
	for _, name := range names {
		full := ftppath.Join(path, name)
		isDir := false
		if result, err := h.Lstat(full); err == nil {
			isDir = result.IsDir()
		}
		if isDir {
			if err := h.RemoveTree(full, ignoreErrors, onError); err != nil {
				return err
			}
		} else if err := h.Remove(full); err != nil {
			if rerr := report("remove", full, err); rerr != nil {
				return rerr
			}
		}
	}
	if err := h.Rmdir(path); err != nil {
		if rerr := report("rmdir", path, err); rerr != nil {
			return rerr
		}
	}
	return nil
}

// WalkFunc is called by Walk once per visited directory with the
// directory's path and the sorted base names of its subdirectories
// and non-directories. Returning fs.SkipDir skips the directory's
// subtree; any other error aborts the walk.
type WalkFunc func(dir string, dirnames, filenames []string) error

// walkConfig collects the options of Host.Walk.
type walkConfig struct {
	topdown     bool
	followLinks bool
	onError     func(error)
}

// WalkOption configures a single Host.Walk call.
type WalkOption func(*walkConfig)

// WithBottomUp reports directories after their subtrees instead of
// before.
func WithBottomUp() WalkOption {
	return func(cfg *walkConfig) {
		cfg.topdown = false
	}
}

// WithFollowLinks descends into directories reached through symlinks.
// Off by default, which prevents walking into link cycles.
func WithFollowLinks() WalkOption {
	return func(cfg *walkConfig) {
		cfg.followLinks = true
	}
}

// WithWalkErrorHandler installs a handler for directory listing
// errors. The affected subtree is skipped and the walk continues;
// without a handler the subtree is skipped silently.
func WithWalkErrorHandler(fn func(error)) WalkOption {
	return func(cfg *walkConfig) {
		cfg.onError = fn
	}
}

// Walk iterates over the directory tree rooted at top, calling fn for
// every directory, top itself included.
//
// Example:
//
//	err := host.Walk("/pub", func(dir string, dirnames, filenames []string) error {
//	    for _, name := range filenames {
//	        fmt.Println(ftppath.Join(dir, name))
//	    }
//	    return nil
//	})
func (h *Host) Walk(top string, fn WalkFunc, options ...WalkOption) error {
	if err := h.checkOpen(); err != nil {
		return pathError("walk", top, err)
	}
	cfg := walkConfig{topdown: true}
	for _, opt := range options {
		opt(&cfg)
	}
	err := h.walk(top, fn, &cfg)
	if errors.Is(err, fs.SkipDir) {
		err = nil
	}
	return err
}

func (h *Host) walk(top string, fn WalkFunc, cfg *walkConfig) error {
	names, err := h.Listdir(top)
	if err != nil {
		if cfg.onError != nil {
			cfg.onError(err)
		}
		return nil
	}
	var dirnames, filenames []string
	for _, name := range names {
		isDir, err := h.IsDir(ftppath.Join(top, name))
		if err != nil {
			return err
		}
		if isDir {
			dirnames = append(dirnames, name)
		} else {
			filenames = append(filenames, name)
		}
	}
	if cfg.topdown {
		if err := fn(top, dirnames, filenames); err != nil {
			return err
		}
	}
	for _, name := range dirnames {
		full := ftppath.Join(top, name)
		if !cfg.followLinks {
			isLink, err := h.IsLink(full)
			if err != nil {
				return err
			}
			if isLink {
				continue
			}
		}
		if err := h.walk(full, fn, cfg); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
	}
	if !cfg.topdown {
		if err := fn(top, dirnames, filenames); err != nil {
			return err
		}
	}
	return nil
}
