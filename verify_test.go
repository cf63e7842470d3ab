package fixzip

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchedReaderAt(t *testing.T) {
	r := &patchedReaderAt{
		base:   bytes.NewReader([]byte("0123456789")),
		offset: 4,
		patch:  []byte("ab"),
	}

	buf := make([]byte, 10)
	n, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	assert.Equal(t, "0123ab6789", string(buf))

	// reads overlapping only part of the patch.
	buf = make([]byte, 3)
	n, err = r.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "3ab", string(buf))

	buf = make([]byte, 3)
	n, err = r.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "b67", string(buf))

	// reads clear of the patch are forwarded unchanged.
	buf = make([]byte, 4)
	n, err = r.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "6789", string(buf))
}

// createZip64Archive writes a real ZIP64 archive by placing its sole entry past the 4GiB mark so that the central
// directory offset requires the ZIP64 sentinel. The leading hole is sparse on most filesystems.
func createZip64Archive(t *testing.T, name string) {
	t.Helper()

	const offset = int64(1)<<32 + 42

	f, err := os.Create(name)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	_, err = f.Seek(offset, io.SeekStart)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	zw.SetOffset(offset)

	w, err := zw.Create("a.txt")
	require.NoError(t, err)

	_, err = w.Write([]byte("hello zip64"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	// the hole leaves offset 0 zeroed; stamp the local file header signature that real archives start with.
	_, err = f.WriteAt([]byte("PK\x03\x04"), 0)
	require.NoError(t, err)
}

// overwriteTotalDisks stamps the locator's "Total Number of Disks" field, recreating the OneDrive/Windows anomaly.
func overwriteTotalDisks(t *testing.T, name string, totalDisks uint32) {
	t.Helper()

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()

	fi, err := f.Stat()
	require.NoError(t, err)

	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, totalDisks)
	_, err = f.WriteAt(b, fi.Size()-TrailerSize+16)
	require.NoError(t, err)
}

func TestFix_Zip64Archive(t *testing.T) {
	name := filepath.Join(t.TempDir(), "zip64.zip")
	createZip64Archive(t, name)

	// archive/zip writes total disks as 1 so there is nothing to do yet.
	r, err := Fix(name)
	require.NoErrorf(t, err, "Fix(...) error = %v", err)
	assert.Equal(t, AlreadyCorrect, r)

	overwriteTotalDisks(t, name, 0)

	// the anomaly must make stock unzipping fail before the fix...
	_, err = zip.OpenReader(name)
	require.ErrorIs(t, err, zip.ErrFormat)

	r, err = Fix(name, func(opts *Options) { opts.Verify = true })
	require.NoErrorf(t, err, "Fix(...) error = %v", err)
	assert.Equal(t, Corrected, r)

	// ...and succeed after.
	zr, err := zip.OpenReader(name)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, zr.Close())
	})

	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, rc.Close())
	})

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello zip64", string(content))
}

func TestFix_VerifyRejectsUnreadableArchive(t *testing.T) {
	// the synthetic archive passes every trailer gate but its ZIP64 EOCD offset points past EOF, so the patched
	// archive still cannot be parsed and the file must be left untouched.
	before := fakeArchive(0, cdOffsetSentinel)
	name := writeTestFile(t, before)

	_, err := Fix(name, func(opts *Options) { opts.Verify = true })
	assert.Error(t, err)
	assert.Equal(t, before, readBack(t, name))
}
