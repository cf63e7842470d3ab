package fixzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	lfhSig       = 0x04034b50
	eocdSig      = 0x06054b50
	eocd64LocSig = 0x07064b50
)

// TrailerSize is the number of bytes read from the end of the file: the 20-byte ZIP64 end of central directory locator
// immediately followed by the 22-byte comment-less end of central directory record.
const TrailerSize = 42

const (
	// totalDisksOffset is the offset of the locator's "Total Number of Disks" field within the trailer.
	totalDisksOffset = 16
	// eocdOffset is the offset of the EOCD record within the trailer.
	eocdOffset = 20
	// cdOffsetSentinel in the EOCD's central directory offset field indicates the real offset lives in the ZIP64
	// end of central directory record.
	cdOffsetSentinel = 0xffffffff
)

var (
	lfhSigBytes       = putUint32(lfhSig)
	eocdSigBytes      = putUint32(eocdSig)
	eocd64LocSigBytes = putUint32(eocd64LocSig)
)

func putUint32(v uint32) (b []byte) {
	b = make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

var (
	// ErrNoLocalFileHeader is returned if the file does not start with the local file header signature.
	ErrNoLocalFileHeader = errors.New("local file header signature not found at start; most likely not a ZIP file")

	// ErrNoEOCDFound is returned if no EOCD signature was found at the expected trailer offset.
	ErrNoEOCDFound = errors.New("end of central directory not found at end; most likely not a ZIP file")

	// ErrNotZip64 is returned if the EOCD's central directory offset field does not hold the ZIP64 sentinel.
	ErrNotZip64 = errors.New("end of central directory does not use the ZIP64 offset sentinel; most likely not a ZIP64 file")

	// ErrNoZip64Locator is returned if no ZIP64 EOCD locator signature precedes the EOCD.
	ErrNoZip64Locator = errors.New("ZIP64 end of central directory locator not found")
)

// UnknownTotalDisksError is returned by Fix if the "Total Number of Disks" field holds a value other than 0 or 1.
//
// Real multi-disk archives are out of scope; only the OneDrive/Windows 0-for-1 anomaly is ever corrected.
type UnknownTotalDisksError struct {
	TotalDisks uint32
}

func (e UnknownTotalDisksError) Error() string {
	return fmt.Sprintf(`unknown "Total Number of Disks" value %d, expected 0 or 1`, e.TotalDisks)
}

// Zip64Locator models the ZIP64 end of central directory locator of a ZIP file.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#ZIP64.
type Zip64Locator struct {
	// EOCD64DiskNumber is the number of the disk with the start of the ZIP64 EOCD record.
	EOCD64DiskNumber uint32
	// EOCD64Offset is the offset of the ZIP64 EOCD record, relative to start of archive.
	EOCD64Offset uint64
	// TotalDisks is the total number of disks; must be 1 for a single-volume archive but OneDrive and built-in
	// Windows ZIP tooling write 0 instead.
	TotalDisks uint32
}

// EOCDRecord models the fixed-size part of the end of central directory record of a ZIP file.
//
// See https://en.wikipedia.org/wiki/ZIP_(file_format)#End_of_central_directory_record_(EOCD).
type EOCDRecord struct {
	// DiskNumber is number of this disk (or 0xffff for ZIP64).
	DiskNumber uint16
	// CDDiskOffset is disk where central directory starts (or 0xffff for ZIP64).
	CDDiskOffset uint16
	// CDCountOnDisk is the number of central directory records on this disk (or 0xffff for ZIP64).
	CDCountOnDisk uint16
	// CDCount is the total number of central directory records (or 0xffff for ZIP64).
	CDCount uint16
	// CDSize is size of central directory (bytes) (or 0xffffffff for ZIP64).
	CDSize uint32
	// CDOffset is offset of start of central directory, relative to start of archive (0xffffffff for ZIP64).
	CDOffset uint32
	// CommentLength is the length of the comment section following the EOCD.
	CommentLength uint16
}

// Trailer is the parsed view of the last TrailerSize bytes of a ZIP64 archive whose EOCD has no comment.
type Trailer struct {
	// Locator is the ZIP64 EOCD locator at the start of the trailer.
	Locator Zip64Locator
	// EOCD is the end of central directory record immediately following the locator.
	EOCD EOCDRecord
	// Offset is the absolute offset of the trailer (and the locator) within the file.
	Offset int64
}

// TotalDisksOffset returns the absolute offset of the locator's "Total Number of Disks" field.
func (t Trailer) TotalDisksOffset() int64 {
	return t.Offset + totalDisksOffset
}

// ReadTrailer reads and parses the last TrailerSize bytes of src which must have the given total size in bytes.
//
// The checks are performed in a fixed order so that the first failure names the record that is malformed: the EOCD
// signature (ErrNoEOCDFound), the ZIP64 sentinel in the EOCD's central directory offset field (ErrNotZip64), then the
// locator signature (ErrNoZip64Locator). A file shorter than TrailerSize bytes fails with ErrNoEOCDFound.
func ReadTrailer(src io.ReaderAt, size int64) (t Trailer, err error) {
	if size < TrailerSize {
		return t, fmt.Errorf("read trailer: file too small (%d bytes): %w", size, ErrNoEOCDFound)
	}

	buf := make([]byte, TrailerSize)
	if _, err = src.ReadAt(buf, size-TrailerSize); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("read trailer: read error: %w", err)
	}

	if t, err = unmarshalTrailer(([TrailerSize]byte)(buf)); err != nil {
		return t, err
	}

	t.Offset = size - TrailerSize
	return t, nil
}

// unmarshalTrailer decodes the TrailerSize-byte slice as a Trailer with Offset left at zero.
func unmarshalTrailer(b [TrailerSize]byte) (t Trailer, err error) {
	eocdData := &struct {
		Signature     uint32
		DiskNumber    uint16
		CDDiskOffset  uint16
		CDCountOnDisk uint16
		CDCount       uint16
		CDSize        uint32
		CDOffset      uint32
		CommentLength uint16
	}{}

	if bytes.Compare(eocdSigBytes, b[eocdOffset:eocdOffset+4]) != 0 {
		return t, fmt.Errorf("%w: got 0x%x, expected 0x%x", ErrNoEOCDFound, b[eocdOffset:eocdOffset+4], eocdSigBytes)
	}

	if err = binary.Read(bytes.NewReader(b[eocdOffset:]), binary.LittleEndian, eocdData); err != nil {
		return t, fmt.Errorf("unmarshal EOCD error: %w", err)
	}

	if eocdData.CDOffset != cdOffsetSentinel {
		return t, fmt.Errorf("%w: central directory offset is 0x%x", ErrNotZip64, eocdData.CDOffset)
	}

	locData := &struct {
		Signature        uint32
		EOCD64DiskNumber uint32
		EOCD64Offset     uint64
		TotalDisks       uint32
	}{}

	if bytes.Compare(eocd64LocSigBytes, b[:4]) != 0 {
		return t, fmt.Errorf("%w: got 0x%x, expected 0x%x", ErrNoZip64Locator, b[:4], eocd64LocSigBytes)
	}

	if err = binary.Read(bytes.NewReader(b[:eocdOffset]), binary.LittleEndian, locData); err != nil {
		return t, fmt.Errorf("unmarshal ZIP64 locator error: %w", err)
	}

	return Trailer{
		Locator: Zip64Locator{
			EOCD64DiskNumber: locData.EOCD64DiskNumber,
			EOCD64Offset:     locData.EOCD64Offset,
			TotalDisks:       locData.TotalDisks,
		},
		EOCD: EOCDRecord{
			DiskNumber:    eocdData.DiskNumber,
			CDDiskOffset:  eocdData.CDDiskOffset,
			CDCountOnDisk: eocdData.CDCountOnDisk,
			CDCount:       eocdData.CDCount,
			CDSize:        eocdData.CDSize,
			CDOffset:      eocdData.CDOffset,
			CommentLength: eocdData.CommentLength,
		},
	}, nil
}
