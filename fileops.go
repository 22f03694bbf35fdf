package ftpfs

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/gonzalop/ftpfs/ftppath"
)

// Remove deletes the file or symlink at path. Directories are
// refused; use Rmdir or RemoveTree.
func (h *Host) Remove(path string) error {
	if err := h.checkOpen(); err != nil {
		return pathError("remove", path, err)
	}
	abs := h.abs(path)
	// IsFile also covers links to files; IsLink is needed to cover
	// links to directories. A missing path goes through to the server
	// so the reply carries the appropriate error message.
	isFile, err := h.IsFile(abs)
	if err != nil {
		return err
	}
	isLink, err := h.IsLink(abs)
	if err != nil {
		return err
	}
	exists, err := h.Exists(abs)
	if err != nil {
		return err
	}
	if !isFile && !isLink && exists {
		return pathError("remove", path, &StatusError{
			Command: "DELE", Code: 550,
			Message: abs + ": can only delete files and links, not directories",
		})
	}
	err = h.robustCommand(abs, false, func(s Session, arg string) error {
		return s.Dele(arg)
	})
	if err != nil {
		return pathError("remove", path, err)
	}
	h.cache.Invalidate(abs)
	return nil
}

// Unlink is an alias for Remove.
func (h *Host) Unlink(path string) error {
	return h.Remove(path)
}

// Rename renames source to target on the remote host.
func (h *Host) Rename(source, target string) error {
	if err := h.checkOpen(); err != nil {
		return pathError("rename", source, err)
	}
	if err := h.checkLoginDir(); err != nil {
		return pathError("rename", source, err)
	}
	absSource := h.abs(source)
	absTarget := h.abs(target)
	sourceHead, sourceTail := ftppath.Split(absSource)
	targetHead, targetTail := ftppath.Split(absTarget)
	var err error
	if sourceHead == targetHead && strings.Contains(sourceHead, " ") {
		// Some servers mishandle whitespace in the directory portion
		// of the argument; rename within the directory instead.
		oldDir := h.curDir
		if err = h.session.Cwd(sourceHead); err == nil {
			err = h.session.Rename(sourceTail, targetTail)
			if rerr := h.session.Cwd(oldDir); rerr != nil && err == nil {
				err = rerr
			}
		}
	} else {
		err = h.session.Rename(absSource, absTarget)
	}
	if err != nil {
		return pathError("rename", source, err)
	}
	h.cache.Invalidate(absSource)
	h.cache.Invalidate(absTarget)
	return nil
}

// Chmod changes the permission bits of path via SITE CHMOD. Servers
// that don't implement the command reply 502, surfaced as an error
// matching ErrNotImplemented.
func (h *Host) Chmod(path string, mode fs.FileMode) error {
	if err := h.checkOpen(); err != nil {
		return pathError("chmod", path, err)
	}
	abs := h.abs(path)
	err := h.robustCommand(abs, false, func(s Session, arg string) error {
		return s.VoidCmd(fmt.Sprintf("SITE CHMOD %04o %s", mode&fs.ModePerm, arg))
	})
	if err != nil {
		return pathError("chmod", path, err)
	}
	h.cache.Invalidate(abs)
	return nil
}
