package fixzip

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
)

// patchedReaderAt delegates io.ReaderAt calls to base while overlaying a small byte patch at a fixed offset.
//
// Reads that span the patched region see the replacement bytes; all other reads are forwarded unchanged. This allows
// the corrected archive to be parsed without modifying the underlying file.
type patchedReaderAt struct {
	base   io.ReaderAt
	offset int64
	patch  []byte
}

func (p *patchedReaderAt) ReadAt(b []byte, off int64) (n int, err error) {
	if n, err = p.base.ReadAt(b, off); n <= 0 {
		return
	}

	readEnd := off + int64(n)
	patchEnd := p.offset + int64(len(p.patch))
	if readEnd <= p.offset || off >= patchEnd {
		return
	}

	start := max(off, p.offset)
	end := min(readEnd, patchEnd)
	copy(b[start-off:end-off], p.patch[start-p.offset:end-p.offset])

	return
}

// verifyReadable parses the archive with the "Total Number of Disks" field overlaid as 1 in memory.
//
// The trailer t must have been read from src which must have the given total size in bytes.
func verifyReadable(src io.ReaderAt, size int64, t Trailer) error {
	patch := make([]byte, 4)
	binary.LittleEndian.PutUint32(patch, 1)

	if _, err := zip.NewReader(&patchedReaderAt{
		base:   src,
		offset: t.TotalDisksOffset(),
		patch:  patch,
	}, size); err != nil {
		return fmt.Errorf("open patched archive error: %w", err)
	}

	return nil
}
