// Package sparsecopy copies files using SEEK_HOLE/SEEK_DATA to skip
// holes, used for duplicating the ext4 module image without reading
// or writing its unallocated regions.
package sparsecopy

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const copyBufferSize = 4096

// Copy copies src to dst, preserving src's apparent length but only
// transferring bytes that fall within a SEEK_DATA extent. When
// punchHole is true, any all-zero buffer read from a data extent is
// skipped (via a destination seek) rather than written, re-creating
// the hole on the destination instead of materializing zero bytes.
func Copy(src, dst string, punchHole bool) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("sparsecopy: opening %s: %w", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("sparsecopy: opening %s: %w", dst, err)
	}
	defer dstFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("sparsecopy: stat %s: %w", src, err)
	}
	if err := dstFile.Truncate(info.Size()); err != nil {
		return fmt.Errorf("sparsecopy: truncate %s: %w", dst, err)
	}

	segments, err := scanDataSegments(srcFile, info.Size())
	if err != nil {
		return fmt.Errorf("sparsecopy: scanning data extents of %s: %w", src, err)
	}

	buf := make([]byte, copyBufferSize)
	for _, seg := range segments {
		if err := copySegment(srcFile, dstFile, seg, buf, punchHole); err != nil {
			return fmt.Errorf("sparsecopy: copying segment [%d,%d): %w", seg.start, seg.end, err)
		}
	}

	return nil
}

type segment struct {
	start int64
	end   int64 // exclusive
}

// scanDataSegments walks size bytes of f using SEEK_DATA/SEEK_HOLE,
// returning the byte ranges that contain actual data. A filesystem
// without sparse-file support reports the entire file as one segment.
func scanDataSegments(f *os.File, size int64) ([]segment, error) {
	fd := int(f.Fd())
	var segments []segment
	pos := int64(0)

	for pos < size {
		dataStart, err := unix.Seek(fd, pos, unix.SEEK_DATA)
		if err != nil {
			if err == unix.ENXIO {
				break
			}
			return []segment{{0, size}}, nil
		}
		if dataStart >= size {
			break
		}

		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil || holeStart > size {
			holeStart = size
		}

		segments = append(segments, segment{start: dataStart, end: holeStart})
		pos = holeStart
	}

	return segments, nil
}

func copySegment(src, dst *os.File, seg segment, buf []byte, punchHole bool) error {
	if _, err := src.Seek(seg.start, io.SeekStart); err != nil {
		return err
	}
	if _, err := dst.Seek(seg.start, io.SeekStart); err != nil {
		return err
	}

	remaining := seg.end - seg.start
	for remaining > 0 {
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}

		n, err := src.Read(buf[:chunk])
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
		}

		if punchHole && isAllZero(buf[:n]) {
			if _, err := dst.Seek(int64(n), io.SeekCurrent); err != nil {
				return err
			}
		} else if _, err := dst.Write(buf[:n]); err != nil {
			return err
		}

		remaining -= int64(n)
	}
	return nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
