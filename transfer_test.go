package ftpfs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileObjChunksAndCallback(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("x"), 2500))
	var dst bytes.Buffer
	var chunks []int
	var lastTotal int64
	n, err := CopyFileObj(&dst, src, 1000, func(info TransferInfo) {
		chunks = append(chunks, info.ChunkSize)
		lastTotal = info.TransferredBytes
		assert.Equal(t, len(chunks), info.TransferredChunks)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
	assert.Equal(t, int64(2500), lastTotal)
	assert.Equal(t, []int{1000, 1000, 500}, chunks)
	assert.Equal(t, 2500, dst.Len())
}

// The conditional transfer policy: transfer iff the source mtime plus
// its precision is after the target mtime minus its precision.
func TestShouldTransfer(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	at := func(s int64) time.Time { return base.Add(time.Duration(s) * time.Second) }

	// Local 1000s ± 1s vs remote 1010s ± 60s: 1001 <= 950 is false,
	// so the local file is not newer.
	assert.False(t, shouldTransfer(at(1000), time.Second, at(1010), time.Minute))
	// Local 1200s: 1201 > 950, transfer.
	assert.True(t, shouldTransfer(at(1200), time.Second, at(1010), time.Minute))
	// Equal timestamps with any imprecision: when in doubt, transfer.
	assert.True(t, shouldTransfer(at(1000), time.Minute, at(1000), time.Minute))
}

func TestUploadDownload(t *testing.T) {
	srv := newFakeServer()
	host := connectFake(t, srv)
	dir := t.TempDir()

	local := filepath.Join(dir, "up.bin")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	var totals []int64
	require.NoError(t, host.Upload(local, "remote.bin", func(info TransferInfo) {
		totals = append(totals, info.TransferredBytes)
	}))
	entry := srv.find("/home/user/remote.bin")
	require.NotNil(t, entry)
	assert.Equal(t, "payload", string(entry.content))
	assert.Equal(t, []int64{7}, totals)

	back := filepath.Join(dir, "down.bin")
	require.NoError(t, host.Download("remote.bin", back, nil))
	data, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadMissingRemovesPartialFile(t *testing.T) {
	srv := newFakeServer()
	host := connectFake(t, srv)
	target := filepath.Join(t.TempDir(), "partial")

	err := host.Download("missing.bin", target, nil)
	require.Error(t, err)
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr), "partial file must not be left behind")
}

func TestConditionalTransferRequiresTimeShift(t *testing.T) {
	srv := newFakeServer()
	host := connectFake(t, srv)
	local := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	_, err := host.UploadIfNewer(local, "f", nil)
	assert.ErrorIs(t, err, ErrTimeShift)
	_, err = host.DownloadIfNewer("f", local, nil)
	assert.ErrorIs(t, err, ErrTimeShift)
}

func TestUploadIfNewer(t *testing.T) {
	srv := newFakeServer()
	// Remote file stamped 10:00 server time on the test clock's day.
	srv.addFile("/home/user", "doc.txt", "Jun 15 10:00", []byte("remote"))
	host := connectFake(t, srv)
	require.NoError(t, host.SetTimeShift(0))

	dir := t.TempDir()
	local := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o644))

	// Local file far older than the remote: no transfer.
	old := time.Date(2024, time.June, 15, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(local, old, old))
	transferred, err := host.UploadIfNewer(local, "doc.txt", nil)
	require.NoError(t, err)
	assert.False(t, transferred)
	assert.Equal(t, "remote", string(srv.find("/home/user/doc.txt").content))

	// Local file newer than the remote: transfer and invalidate.
	newer := time.Date(2024, time.June, 15, 11, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(local, newer, newer))
	transferred, err = host.UploadIfNewer(local, "doc.txt", nil)
	require.NoError(t, err)
	assert.True(t, transferred)
	assert.Equal(t, "local", string(srv.find("/home/user/doc.txt").content))
	_, ok := host.StatCache().Get("/home/user/doc.txt")
	assert.False(t, ok, "transferred target must be invalidated")

	// Missing target always transfers.
	transferred, err = host.UploadIfNewer(local, "brand-new.txt", nil)
	require.NoError(t, err)
	assert.True(t, transferred)
}

func TestDownloadIfNewer(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "doc.txt", "Jun 15 10:00", []byte("remote"))
	host := connectFake(t, srv)
	require.NoError(t, host.SetTimeShift(0))

	dir := t.TempDir()
	local := filepath.Join(dir, "doc.txt")

	// Missing local target: transfer.
	transferred, err := host.DownloadIfNewer("doc.txt", local, nil)
	require.NoError(t, err)
	assert.True(t, transferred)
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	// Local much newer than the remote: no transfer.
	newer := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(local, newer, newer))
	transferred, err = host.DownloadIfNewer("doc.txt", local, nil)
	require.NoError(t, err)
	assert.False(t, transferred)

	// Missing remote source is an error, not a silent skip.
	_, err = host.DownloadIfNewer("missing.txt", local, nil)
	assert.Error(t, err)
}
