package ftpfs

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectFake(t *testing.T, srv *fakeServer, options ...Option) *Host {
	t.Helper()
	options = append([]Option{WithClock(testClock)}, options...)
	host, err := Connect(srv.factory(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = host.Close() })
	srv.listCalls = 0
	return host
}

func TestAutodetectUnixListing(t *testing.T) {
	srv := newFakeServer()
	srv.rawListings["/home/user"] = []string{
		"total 0",
		"-rw-r--r--  1 u g 10 Jan 02 03:04 a.txt",
		"drwxr-xr-x  2 u g 4096 Jan 02  2023 sub",
	}
	host := connectFake(t, srv)

	names, err := host.Listdir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub"}, names)

	isDir, err := host.IsDir("sub")
	require.NoError(t, err)
	assert.True(t, isDir)

	size, err := host.Getsize("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestAutodetectMSListing(t *testing.T) {
	srv := newFakeServer()
	srv.rawListings["/home/user"] = []string{
		"10-23-01  03:25PM       <DIR>          logs",
		"10-23-01  03:25PM                 1234 data.bin",
	}
	host := connectFake(t, srv)

	names, err := host.Listdir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"data.bin", "logs"}, names)

	isDir, err := host.IsDir("logs")
	require.NoError(t, err)
	assert.True(t, isDir)

	size, err := host.Getsize("data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}

func TestSymlinkFollowing(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "target", "Jan 02  2023", []byte("hello"))
	srv.addLink("/home/user", "link", "target", "Jan 02  2023")
	host := connectFake(t, srv)

	linkStat, err := host.Stat("link")
	require.NoError(t, err)
	targetStat, err := host.Stat("target")
	require.NoError(t, err)
	assert.Equal(t, targetStat.Size, linkStat.Size)

	lstatResult, err := host.Lstat("link")
	require.NoError(t, err)
	assert.Equal(t, "target", lstatResult.Target)
	assert.True(t, lstatResult.IsSymlink())

	isLink, err := host.IsLink("link")
	require.NoError(t, err)
	assert.True(t, isLink)
	isLink, err = host.IsLink("target")
	require.NoError(t, err)
	assert.False(t, isLink)
}

func TestRelativeLinkTargetResolution(t *testing.T) {
	srv := newFakeServer()
	srv.addDir("/home/user", "docs", "Jan 02  2023")
	srv.addFile("/home/user/docs", "real.txt", "Jan 02  2023", []byte("data!"))
	srv.addLink("/home/user", "shortcut", "docs/real.txt", "Jan 02  2023")
	host := connectFake(t, srv)

	result, err := host.Stat("shortcut")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Size)
	assert.True(t, result.IsRegular())
}

func TestRecursiveLinks(t *testing.T) {
	srv := newFakeServer()
	srv.addLink("/home/user", "a", "b", "Jan 02  2023")
	srv.addLink("/home/user", "b", "a", "Jan 02  2023")
	host := connectFake(t, srv)

	_, err := host.Stat("a")
	assert.ErrorIs(t, err, ErrRecursiveLinks)

	// Lstat doesn't follow the chain and must succeed.
	result, err := host.Lstat("a")
	require.NoError(t, err)
	assert.Equal(t, "b", result.Target)

	// The predicates swallow the recursion into a plain false.
	isFile, err := host.IsFile("a")
	require.NoError(t, err)
	assert.False(t, isFile)
}

func TestListdirPopulatesCache(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "zeta", "Jan 02  2023", []byte("zz"))
	srv.addFile("/home/user", "alpha", "Jan 02  2023", []byte("a"))
	srv.addDir("/home/user", "mid", "Jan 02  2023")
	host := connectFake(t, srv)

	names, err := host.Listdir("/home/user")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	listed := srv.listCalls
	for _, name := range names {
		_, err := host.Lstat("/home/user/" + name)
		require.NoError(t, err)
	}
	assert.Equal(t, listed, srv.listCalls,
		"lstat after listdir must be served from the cache")
}

func TestLstatPopulatesWholeParent(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "a", "Jan 02  2023", nil)
	srv.addFile("/home/user", "b", "Jan 02  2023", nil)
	host := connectFake(t, srv)

	_, err := host.Lstat("a")
	require.NoError(t, err)
	listed := srv.listCalls
	_, err = host.Lstat("b")
	require.NoError(t, err)
	assert.Equal(t, listed, srv.listCalls,
		"sibling lstat must be served from the cache")
}

func TestCacheAutoGrow(t *testing.T) {
	srv := newFakeServer()
	for _, name := range []string{"f1", "f2", "f3", "f4", "f5"} {
		srv.addFile("/home/user", name, "Jan 02  2023", nil)
	}
	host := connectFake(t, srv, WithStatCacheSize(2))

	names, err := host.Listdir("/home/user")
	require.NoError(t, err)
	require.Len(t, names, 5)
	assert.GreaterOrEqual(t, host.StatCache().SizeLimit(), 5,
		"cache must grow to fit the whole listing")

	listed := srv.listCalls
	for _, name := range names {
		_, err := host.Lstat("/home/user/" + name)
		require.NoError(t, err)
	}
	assert.Equal(t, listed, srv.listCalls)
}

func TestRootDir(t *testing.T) {
	srv := newFakeServer()
	host := connectFake(t, srv)

	_, err := host.Lstat("/")
	assert.ErrorIs(t, err, ErrRootDir)
	_, err = host.Stat("/")
	assert.ErrorIs(t, err, ErrRootDir)

	exists, err := host.Exists("/")
	require.NoError(t, err)
	assert.True(t, exists)
	isDir, err := host.IsDir("/")
	require.NoError(t, err)
	assert.True(t, isDir)
	isFile, err := host.IsFile("/")
	require.NoError(t, err)
	assert.False(t, isFile)

	names, err := host.Listdir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, names)
}

func TestMissingPath(t *testing.T) {
	srv := newFakeServer()
	host := connectFake(t, srv)

	_, err := host.Lstat("nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.True(t, IsPermanent(err))

	exists, err := host.Exists("nope")
	require.NoError(t, err)
	assert.False(t, exists)

	isFile, err := host.IsFile("nope")
	require.NoError(t, err)
	assert.False(t, isFile)
}

func TestExactlyOneKindForRegularEntries(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "file", "Jan 02  2023", nil)
	srv.addDir("/home/user", "dir", "Jan 02  2023")
	srv.addLink("/home/user", "link", "file", "Jan 02  2023")
	host := connectFake(t, srv)

	for _, tt := range []struct {
		path                       string
		wantFile, wantDir, wantLnk bool
	}{
		{"file", true, false, false},
		{"dir", false, true, false},
		{"link", true, false, true}, // IsFile follows the link
	} {
		isFile, err := host.IsFile(tt.path)
		require.NoError(t, err)
		isDir, err := host.IsDir(tt.path)
		require.NoError(t, err)
		isLink, err := host.IsLink(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.wantFile, isFile, "IsFile(%s)", tt.path)
		assert.Equal(t, tt.wantDir, isDir, "IsDir(%s)", tt.path)
		assert.Equal(t, tt.wantLnk, isLink, "IsLink(%s)", tt.path)
	}
}

func TestParserFailureIsNotSwallowed(t *testing.T) {
	srv := newFakeServer()
	srv.rawListings["/home/user"] = []string{"complete garbage here"}
	host := connectFake(t, srv, WithParser(&UnixParser{Now: testClock}))

	// The predicates swallow "not found", but never parser failures.
	_, err := host.IsFile("anything")
	var pe *ParserError
	assert.True(t, errors.As(err, &pe), "expected *ParserError, got %v", err)

	_, err = host.Exists("anything")
	assert.True(t, errors.As(err, &pe), "expected *ParserError, got %v", err)
}

func TestParserSwitchOnFailure(t *testing.T) {
	// An empty login directory leaves autodetection open; the first
	// real listing in MS format must switch parsers transparently.
	srv := newFakeServer()
	srv.addDir("/home/user", "data", "Jan 02  2023")
	srv.rawListings["/home/user/data"] = []string{
		"10-23-01  03:25PM                 77 report.txt",
	}
	srv.rawListings["/home/user"] = nil
	host := connectFake(t, srv)

	size, err := host.Getsize("data/report.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(77), size)
}

func TestDotEntriesAreHidden(t *testing.T) {
	srv := newFakeServer()
	srv.rawListings["/home/user"] = []string{
		"drwxr-xr-x  2 u g 4096 Jan 02  2023 .",
		"drwxr-xr-x  2 u g 4096 Jan 02  2023 ..",
		"-rw-r--r--  1 u g 1 Jan 02  2023 real",
	}
	host := connectFake(t, srv)

	names, err := host.Listdir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, names)
}

func TestGetmtimeAppliesTimeShift(t *testing.T) {
	srv := newFakeServer()
	srv.addFile("/home/user", "f", "Jun 15 10:00", nil)
	host := connectFake(t, srv)
	require.NoError(t, host.SetTimeShift(2*time.Hour))

	mtime, err := host.Getmtime("f")
	require.NoError(t, err)
	// Server-local 10:00 minus the two-hour shift.
	assert.Equal(t, time.Date(2024, time.June, 15, 8, 0, 0, 0, time.UTC), mtime)
}
