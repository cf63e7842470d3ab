// Package fixzip corrects the "Total Number of Disks" field in the ZIP64 end of central directory locator of archives
// produced by OneDrive and built-in Windows ZIP tooling.
//
// Those tools write 0 instead of the mandated 1 for single-volume archives larger than 4GiB, which makes standard
// unzip utilities reject otherwise-valid files. Fix detects the anomaly and overwrites the 4-byte field in place; no
// other byte of the archive is read or written beyond the first 4 and last 42.
package fixzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Result indicates how Fix disposed of a file.
type Result int

const (
	// Corrected means the "Total Number of Disks" field was 0 and has been overwritten with 1.
	Corrected Result = iota
	// WouldCorrect means the field is 0 but dry run prevented the write.
	WouldCorrect
	// AlreadyCorrect means the field is already 1 so the file was left alone.
	AlreadyCorrect
)

func (r Result) String() string {
	switch r {
	case Corrected:
		return "corrected"
	case WouldCorrect:
		return "would correct"
	case AlreadyCorrect:
		return "already correct"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// ErrNotRegularFile is returned by Fix if the path names something other than a regular file.
var ErrNotRegularFile = errors.New("not a regular file")

// Options customises Fix.
type Options struct {
	// DryRun reports what would change without modifying the file.
	DryRun bool

	// Verify opens the archive with the corrected field overlaid in memory before anything is written.
	//
	// If the patched archive still cannot be parsed as a ZIP file, the correction would not help, so Fix returns
	// the parse error and leaves the file untouched.
	Verify bool
}

// Fix patches the "Total Number of Disks" field of the named ZIP64 archive in place.
//
// The file must start with the local file header signature and end with a ZIP64 EOCD locator immediately followed by a
// comment-less EOCD whose central directory offset holds the ZIP64 sentinel; see ReadTrailer for the individual
// failure modes. The only write is 4 bytes (little-endian 1) at offset fileSize-42+16, performed only when the field
// reads 0, so invoking Fix again on a corrected file reports AlreadyCorrect without writing. Validation failures and
// dry run never modify the file.
func Fix(name string, optFns ...func(*Options)) (Result, error) {
	opts := &Options{}
	for _, fn := range optFns {
		fn(opts)
	}

	flag := os.O_RDWR
	if opts.DryRun {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return 0, fmt.Errorf("open file error: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	switch {
	case err != nil:
		return 0, fmt.Errorf("stat file error: %w", err)
	case !fi.Mode().IsRegular():
		return 0, fmt.Errorf("%w: %s", ErrNotRegularFile, fi.Mode())
	}

	sig := make([]byte, 4)
	switch n, err := f.ReadAt(sig, 0); {
	case err != nil && !errors.Is(err, io.EOF):
		return 0, fmt.Errorf("read local file header error: %w", err)
	case n < 4:
		return 0, fmt.Errorf("%w: file too small (%d bytes)", ErrNoLocalFileHeader, fi.Size())
	case bytes.Compare(lfhSigBytes, sig) != 0:
		return 0, fmt.Errorf("%w: got 0x%x, expected 0x%x", ErrNoLocalFileHeader, sig, lfhSigBytes)
	}

	t, err := ReadTrailer(f, fi.Size())
	if err != nil {
		return 0, err
	}

	switch t.Locator.TotalDisks {
	case 0:
		if opts.Verify {
			if err = verifyReadable(f, fi.Size(), t); err != nil {
				return 0, fmt.Errorf("verify error: %w", err)
			}
		}

		if opts.DryRun {
			return WouldCorrect, nil
		}

		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, 1)
		if _, err = f.WriteAt(b, t.TotalDisksOffset()); err != nil {
			return 0, fmt.Errorf(`write "Total Number of Disks" error: %w`, err)
		}

		return Corrected, nil
	case 1:
		return AlreadyCorrect, nil
	default:
		return 0, UnknownTotalDisksError{TotalDisks: t.Locator.TotalDisks}
	}
}
