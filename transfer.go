package ftpfs

import (
	"fmt"
	"io"
	"os"
	"time"
)

// MaxCopyChunkSize is the chunk size used by CopyFileObj and the
// upload/download methods.
const MaxCopyChunkSize = 64 * 1024

// TransferInfo describes the progress of a running transfer and is
// handed to the transfer callback after every chunk.
type TransferInfo struct {
	// Chunk is the data transferred right before the callback;
	// only valid for the duration of the call
	Chunk []byte

	// TransferredChunks counts the chunks so far, this one included
	TransferredChunks int

	// ChunkSize is the size of this chunk
	ChunkSize int

	// TransferredBytes is the running byte total
	TransferredBytes int64
}

// TransferCallback receives progress updates during a transfer.
type TransferCallback func(info TransferInfo)

// CopyFileObj copies from src to dst in chunks of chunkSize bytes,
// invoking callback (if non-nil) after each chunk. It returns the
// number of bytes copied.
func CopyFileObj(dst io.Writer, src io.Reader, chunkSize int, callback TransferCallback) (int64, error) {
	if chunkSize < 1 {
		chunkSize = MaxCopyChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int64
	chunks := 0
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
			chunks++
			if callback != nil {
				callback(TransferInfo{
					Chunk:             buf[:n],
					TransferredChunks: chunks,
					ChunkSize:         n,
					TransferredBytes:  total,
				})
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// Upload copies the local file at source to the remote path target.
// The transfer is always binary. A non-nil callback is invoked after
// every transferred chunk.
func (h *Host) Upload(source, target string, callback TransferCallback) error {
	if err := h.checkOpen(); err != nil {
		return pathError("upload", target, err)
	}
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()
	dst, err := h.Open(target, WithMode("wb"))
	if err != nil {
		return err
	}
	_, copyErr := CopyFileObj(dst, src, MaxCopyChunkSize, callback)
	closeErr := dst.Close()
	if copyErr != nil {
		return fmt.Errorf("upload failed: %w", copyErr)
	}
	return closeErr
}

// Download copies the remote file at source to the local path target.
// The transfer is always binary. A non-nil callback is invoked after
// every transferred chunk. On failure the partial local file is
// removed.
func (h *Host) Download(source, target string, callback TransferCallback) error {
	if err := h.checkOpen(); err != nil {
		return pathError("download", source, err)
	}
	src, err := h.Open(source, WithMode("rb"))
	if err != nil {
		return err
	}
	dst, err := os.Create(target)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create local file: %w", err)
	}
	_, copyErr := CopyFileObj(dst, src, MaxCopyChunkSize, callback)
	closeErr := src.Close()
	localErr := dst.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = localErr
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return fmt.Errorf("download failed: %w", copyErr)
	}
	return nil
}

// localPrecision is the timestamp precision assumed for local files.
const localPrecision = time.Second

// remoteDefaultPrecision is assumed for remote records whose listing
// didn't convey a precision.
const remoteDefaultPrecision = time.Minute

// shouldTransfer decides a conditional transfer from the source and
// target mtimes and their precisions. With imprecise timestamps the
// comparison errs on the side of transferring.
func shouldTransfer(sourceMTime time.Time, sourcePrecision time.Duration,
	targetMTime time.Time, targetPrecision time.Duration) bool {
	return sourceMTime.Add(sourcePrecision).After(targetMTime.Add(-targetPrecision))
}

// UploadIfNewer uploads the local file at source to the remote path
// target only if the target is missing or older than the source.
// Returns whether data was transferred.
//
// The comparison needs the host's time shift; before SetTimeShift or
// SynchronizeTimes established one, the call fails with an error
// matching ErrTimeShift.
func (h *Host) UploadIfNewer(source, target string, callback TransferCallback) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, pathError("upload", target, err)
	}
	if !h.timeShiftSet {
		return false, fmt.Errorf("%w: time shift not established, call SetTimeShift or SynchronizeTimes", ErrTimeShift)
	}
	srcInfo, err := os.Stat(source)
	if err != nil {
		return false, err
	}
	targetResult, err := h.engine.stat(target, true)
	if err != nil {
		return false, pathError("upload", target, err)
	}
	if targetResult != nil {
		precision := targetResult.MTimePrecision
		if precision == 0 {
			precision = remoteDefaultPrecision
		}
		if !shouldTransfer(srcInfo.ModTime().UTC(), localPrecision,
			targetResult.MTime, precision) {
			return false, nil
		}
	}
	if err := h.Upload(source, target, callback); err != nil {
		return false, err
	}
	return true, nil
}

// DownloadIfNewer downloads the remote file at source to the local
// path target only if the target is missing or older than the source.
// Returns whether data was transferred.
//
// Like UploadIfNewer, this requires an established time shift.
func (h *Host) DownloadIfNewer(source, target string, callback TransferCallback) (bool, error) {
	if err := h.checkOpen(); err != nil {
		return false, pathError("download", source, err)
	}
	if !h.timeShiftSet {
		return false, fmt.Errorf("%w: time shift not established, call SetTimeShift or SynchronizeTimes", ErrTimeShift)
	}
	sourceResult, err := h.engine.stat(source, false)
	if err != nil {
		return false, pathError("download", source, err)
	}
	if targetInfo, err := os.Stat(target); err == nil {
		precision := sourceResult.MTimePrecision
		if precision == 0 {
			precision = remoteDefaultPrecision
		}
		if !shouldTransfer(sourceResult.MTime, precision,
			targetInfo.ModTime().UTC(), localPrecision) {
			return false, nil
		}
	}
	if err := h.Download(source, target, callback); err != nil {
		return false, err
	}
	return true, nil
}
