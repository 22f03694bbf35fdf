package ftpfs

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gonzalop/ftpfs/ftppath"
)

// maxLinkHops bounds symlink chains followed by Stat before the chain
// counts as recursive.
const maxLinkHops = 20

// statEngine implements stat, lstat, and listdir by fetching and
// parsing directory listings and keeping the stat cache coherent.
type statEngine struct {
	host   *Host
	parser Parser

	// allowSwitch permits one switch to the MS parser if the current
	// parser fails, until some parser demonstrably worked or a parser
	// was pinned with SetParser.
	allowSwitch bool
}

func newStatEngine(h *Host) *statEngine {
	return &statEngine{
		host:        h,
		parser:      &UnixParser{Now: h.now},
		allowSwitch: true,
	}
}

// detect probes the listing of dir (normally the login directory) and
// installs the first built-in parser that understands any non-ignored
// line. With no parseable lines the autodetection stays open and the
// next failing listing may still switch parsers.
func (e *statEngine) detect(dir string) {
	lines, err := e.host.dirLines(dir)
	if err != nil {
		e.host.logger.Debug("parser autodetection listing failed", "dir", dir, "error", err)
		return
	}
	candidates := []Parser{&UnixParser{Now: e.host.now}, &MSParser{}}
	for _, line := range lines {
		for _, p := range candidates {
			if p.IgnoresLine(line) {
				continue
			}
			if _, err := p.ParseLine(line, e.host.timeShift); err == nil {
				e.parser = p
				e.allowSwitch = false
				e.host.logger.Debug("directory parser detected", "line", line)
				return
			}
		}
	}
}

// switchableParserError reports whether err is a parser failure that
// may be retried with the other built-in parser.
func (e *statEngine) switchableParserError(err error) bool {
	var pe *ParserError
	return e.allowSwitch && errors.As(err, &pe)
}

// switchParser swaps in the MS parser. Only one switch ever happens.
func (e *statEngine) switchParser() {
	e.allowSwitch = false
	e.parser = &MSParser{}
	e.host.logger.Debug("switched directory parser")
}

// entriesFor parses the listing of the absolute directory dir and
// stores every entry in the cache, not just a requested one: listing
// the parent is the expensive part, the entries are almost free.
func (e *statEngine) entriesFor(dir string) ([]*StatResult, error) {
	lines, err := e.host.dirLines(dir)
	if err != nil {
		return nil, err
	}
	cache := e.host.cache
	// Grow the cache if it can't hold as many entries as the
	// directory has; a listing must stay coherent with the cache.
	if cache.Enabled() && len(lines) >= cache.SizeLimit() {
		cache.SetSizeLimit(int(math.Ceil(1.1 * float64(len(lines)))))
	}
	var entries []*StatResult
	for _, line := range lines {
		if e.parser.IgnoresLine(line) {
			continue
		}
		result, err := e.parser.ParseLine(line, e.host.timeShift)
		if err != nil {
			return nil, err
		}
		if result.Name == "." || result.Name == ".." {
			continue
		}
		cache.Put(ftppath.Clean(ftppath.Join(dir, result.Name)), result)
		entries = append(entries, result)
	}
	return entries, nil
}

// realLstat returns the stat record for path without following links.
// With missingOK, a missing path yields (nil, nil) instead of an
// error, so the predicates can distinguish "missing" from real
// failures.
func (e *statEngine) realLstat(path string, missingOK bool) (*StatResult, error) {
	abs := e.host.abs(path)
	if result, ok := e.host.cache.Get(abs); ok {
		return result, nil
	}
	// Stat works by parsing the listing of the parent directory;
	// the root has no parent.
	if abs == "/" {
		return nil, ErrRootDir
	}
	dir, base := ftppath.Split(abs)
	if missingOK {
		// If even the parent doesn't exist, treat the path as
		// missing. The isDir call recurses, terminating at the root.
		isDir, err := e.host.IsDir(dir)
		if err != nil {
			return nil, err
		}
		if !isDir {
			return nil, nil
		}
	}
	entries, err := e.entriesFor(dir)
	if err != nil {
		return nil, err
	}
	var found *StatResult
	for _, entry := range entries {
		if entry.Name == base {
			found = entry
		}
	}
	if found != nil {
		return found, nil
	}
	if missingOK {
		return nil, nil
	}
	return nil, newNotExist(abs)
}

// realStat returns the stat record for path, following symlinks.
// Relative link targets resolve against the containing directory.
func (e *statEngine) realStat(path string, missingOK bool) (*StatResult, error) {
	visited := map[string]bool{}
	current := path
	for hops := 0; ; hops++ {
		result, err := e.realLstat(current, missingOK)
		if err != nil || result == nil {
			return result, err
		}
		if !result.IsSymlink() {
			return result, nil
		}
		dir, _ := ftppath.Split(e.host.abs(current))
		next := ftppath.Clean(e.host.abs(ftppath.Join(dir, result.Target)))
		if hops+1 >= maxLinkHops || visited[next] {
			return nil, fmt.Errorf("%w behind %q", ErrRecursiveLinks, path)
		}
		visited[next] = true
		current = next
	}
}

// realListdir returns the sorted base names of the entries of the
// directory at path and fills the cache with their stat records.
func (e *statEngine) realListdir(path string) ([]string, error) {
	abs := e.host.abs(path)
	// The current directory and the root are taken to be directories
	// without stat'ing: the root can't be stat'ed at all, and on some
	// servers the login directory's parent can't be listed.
	if abs != "/" && abs != e.host.curDir {
		result, err := e.realStat(abs, true)
		if err != nil && !errors.Is(err, ErrRootDir) {
			return nil, err
		}
		if err == nil {
			if result == nil {
				return nil, newNotExist(abs)
			}
			if !result.IsDir() {
				return nil, &StatusError{Command: "LIST", Code: 550, Message: abs + ": not a directory"}
			}
		}
	}
	entries, err := e.entriesFor(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names, nil
}

// The public entry points allow one parser switch while autodetection
// is still open. A successful non-empty lstat or stat pins the
// current parser; an empty directory can't tell the parsers apart, so
// switching stays possible until an entry was actually parsed.

func (e *statEngine) lstat(path string, missingOK bool) (*StatResult, error) {
	result, err := e.realLstat(path, missingOK)
	if err != nil && e.switchableParserError(err) {
		e.switchParser()
		result, err = e.realLstat(path, missingOK)
	}
	if err == nil && result != nil {
		e.allowSwitch = false
	}
	return result, err
}

func (e *statEngine) stat(path string, missingOK bool) (*StatResult, error) {
	result, err := e.realStat(path, missingOK)
	if err != nil && e.switchableParserError(err) {
		e.switchParser()
		result, err = e.realStat(path, missingOK)
	}
	if err == nil && result != nil {
		e.allowSwitch = false
	}
	return result, err
}

func (e *statEngine) listdir(path string) ([]string, error) {
	names, err := e.realListdir(path)
	if err != nil && e.switchableParserError(err) {
		e.switchParser()
		names, err = e.realListdir(path)
	}
	return names, err
}

//
// Host-level stat API
//

// Lstat returns the stat record for path without following symlinks.
// Missing paths yield an error matching fs.ErrNotExist; a listing that
// can't be parsed yields a *ParserError regardless of whether the path
// exists.
func (h *Host) Lstat(path string) (*StatResult, error) {
	if err := h.checkOpen(); err != nil {
		return nil, pathError("lstat", path, err)
	}
	result, err := h.engine.lstat(path, false)
	if err != nil {
		return nil, pathError("lstat", path, err)
	}
	return result, nil
}

// Stat returns the stat record for path, following symlinks. Cyclic
// or overly deep link chains yield an error matching
// ErrRecursiveLinks.
func (h *Host) Stat(path string) (*StatResult, error) {
	if err := h.checkOpen(); err != nil {
		return nil, pathError("stat", path, err)
	}
	result, err := h.engine.stat(path, false)
	if err != nil {
		return nil, pathError("stat", path, err)
	}
	return result, nil
}

// Listdir returns the sorted base names of the entries in the
// directory at path. As a side effect, the stat records of all
// entries are cached.
func (h *Host) Listdir(path string) ([]string, error) {
	if err := h.checkOpen(); err != nil {
		return nil, pathError("listdir", path, err)
	}
	names, err := h.engine.listdir(path)
	if err != nil {
		return nil, pathError("listdir", path, err)
	}
	return names, nil
}

// Exists reports whether path exists. Missing paths are not an error;
// parser failures and transport errors are.
func (h *Host) Exists(path string) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, pathError("exists", path, err)
	}
	if path == "" {
		return false, nil
	}
	result, err := h.engine.lstat(path, true)
	if err != nil {
		if errors.Is(err, ErrRootDir) {
			return true, nil
		}
		return false, pathError("exists", path, err)
	}
	return result != nil, nil
}

// IsDir reports whether path exists and, after following symlinks, is
// a directory. Missing paths and recursive link chains report false;
// other failures are returned as errors.
func (h *Host) IsDir(path string) (bool, error) {
	return h.isEntity(path, "isdir")
}

// IsFile reports whether path exists and, after following symlinks,
// is a regular file. Missing paths and recursive link chains report
// false; other failures are returned as errors.
func (h *Host) IsFile(path string) (bool, error) {
	return h.isEntity(path, "isfile")
}

func (h *Host) isEntity(path, op string) (bool, error) {
	wantDir := op == "isdir"
	if err := h.checkOpen(); err != nil {
		return false, pathError(op, path, err)
	}
	if path == "" {
		return false, nil
	}
	// If we can't go up from the current directory, we still know the
	// current directory is one.
	if ftppath.Clean(h.abs(path)) == h.curDir {
		return wantDir, nil
	}
	result, err := h.engine.stat(path, true)
	if err != nil {
		if errors.Is(err, ErrRecursiveLinks) {
			return false, nil
		}
		if errors.Is(err, ErrRootDir) {
			return wantDir, nil
		}
		return false, pathError(op, path, err)
	}
	if result == nil {
		return false, nil
	}
	if wantDir {
		return result.IsDir(), nil
	}
	return result.IsRegular(), nil
}

// IsLink reports whether path exists and is a symbolic link. Missing
// paths report false; other failures are returned as errors.
func (h *Host) IsLink(path string) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, pathError("islink", path, err)
	}
	if path == "" {
		return false, nil
	}
	result, err := h.engine.lstat(path, true)
	if err != nil {
		if errors.Is(err, ErrRootDir) {
			return false, nil
		}
		return false, pathError("islink", path, err)
	}
	if result == nil {
		return false, nil
	}
	return result.IsSymlink(), nil
}

// Getmtime returns the modification time of path (following symlinks)
// in UTC. The precision the listing allows is available from Stat.
func (h *Host) Getmtime(path string) (time.Time, error) {
	result, err := h.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return result.MTime, nil
}

// Getsize returns the size of path in bytes, following symlinks.
func (h *Host) Getsize(path string) (int64, error) {
	result, err := h.Stat(path)
	if err != nil {
		return 0, err
	}
	return result.Size, nil
}
