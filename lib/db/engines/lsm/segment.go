package lsm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dht/lib/db"
	"github.com/golang/snappy"
	"github.com/spf13/afero"
)

// --------------------------------------------------------------------------
// Segment File Format
// --------------------------------------------------------------------------

/*
	┌──────────────────────────────────────────────────────────────┐
	│ magic (8 bytes)                                              │
	├──────────────────────────────────────────────────────────────┤
	│ Records, ordered by key                                      │
	│   keyLen (u32) | flags (u8) | valLen (u32) | key | snappy(v) │
	├──────────────────────────────────────────────────────────────┤
	│ Index                                                        │
	│   count (u64) | (keyLen (u32) | key | offset (u64))*         │
	├──────────────────────────────────────────────────────────────┤
	│ Footer                                                       │
	│   indexOffset (u64) | crc32(index) (u32) | magic (8 bytes)   │
	└──────────────────────────────────────────────────────────────┘

	All integers are little endian. Tombstones have the flagTombstone bit set
	and an empty value.
*/

const (
	segmentMagic     = "DHTSEG\x00\x01"
	segmentSuffix    = ".seg"
	tmpSuffix        = ".tmp"
	flagTombstone    = 1 << 0
	recordHeaderSize = 4 + 1 + 4
	footerSize       = 8 + 4 + len(segmentMagic)
	writeBufferSize  = 256 * 1024
)

// ErrCorruptedSegment is returned when a segment file cannot be decoded
var ErrCorruptedSegment = errors.New("lsm: corrupted segment")

// segmentFileName returns the file name of the segment with the given sequence number.
// The zero padding keeps lexical and numeric order identical.
func segmentFileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, segmentSuffix)
}

// parseSegmentFileName returns the sequence number encoded in a segment file name
func parseSegmentFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(name, segmentSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// writeSegment persists all entries of m as the segment seq in dir.
// The data is written to a temporary file, synced and then renamed, so a
// segment file is either complete or absent. It returns the final path and
// the number of bytes written.
func writeSegment(fs afero.Fs, dir string, seq uint64, m *memtable) (path string, written int64, err error) {
	path = filepath.Join(dir, segmentFileName(seq))
	tmpPath := path + tmpSuffix

	file, err := fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, err
	}

	// remove the temporary file on any failure
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = fs.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriterSize(file, writeBufferSize)
	w := &countingWriter{w: bw}

	if _, err = w.Write([]byte(segmentMagic)); err != nil {
		return "", 0, err
	}

	// write records and remember their offsets for the index
	var index bytes.Buffer
	var header [recordHeaderSize]byte
	var scratch []byte
	count := uint64(0)

	m.ascend(func(e db.Entry) bool {
		offset := uint64(w.n)

		var flags byte
		var value []byte
		if e.Tombstone {
			flags |= flagTombstone
		} else {
			scratch = snappy.Encode(scratch[:cap(scratch)], e.Value)
			value = scratch
		}

		binary.LittleEndian.PutUint32(header[0:4], uint32(len(e.Key)))
		header[4] = flags
		binary.LittleEndian.PutUint32(header[5:9], uint32(len(value)))

		if _, err = w.Write(header[:]); err != nil {
			return false
		}
		if _, err = w.Write(e.Key); err != nil {
			return false
		}
		if _, err = w.Write(value); err != nil {
			return false
		}

		_ = binary.Write(&index, binary.LittleEndian, uint32(len(e.Key)))
		index.Write(e.Key)
		_ = binary.Write(&index, binary.LittleEndian, offset)
		count++
		return true
	})
	if err != nil {
		return "", 0, err
	}

	// write index (prefixed with the entry count)
	indexOffset := uint64(w.n)
	indexBytes := make([]byte, 8, 8+index.Len())
	binary.LittleEndian.PutUint64(indexBytes, count)
	indexBytes = append(indexBytes, index.Bytes()...)

	if _, err = w.Write(indexBytes); err != nil {
		return "", 0, err
	}

	// write footer
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint32(footer[8:12], crc32.ChecksumIEEE(indexBytes))
	copy(footer[12:], segmentMagic)
	if _, err = w.Write(footer[:]); err != nil {
		return "", 0, err
	}

	if err = bw.Flush(); err != nil {
		return "", 0, err
	}
	if err = file.Sync(); err != nil {
		return "", 0, err
	}
	if err = file.Close(); err != nil {
		return "", 0, err
	}
	if err = fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return "", 0, err
	}

	return path, w.n, nil
}

// countingWriter counts the bytes written to the wrapped writer
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// segment is an immutable, opened segment file.
// The index (every key with its record offset) is held in memory,
// values are read from the file on demand.
type segment struct {
	seq     uint64
	path    string
	file    afero.File
	size    int64
	dataEnd int64 // records end where the index starts
	keys    [][]byte
	offsets []uint64
}

// openSegment opens the segment file at path and loads its index
func openSegment(fs afero.Fs, path string, seq uint64) (s *segment, err error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = file.Close()
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < int64(len(segmentMagic)+footerSize) {
		return nil, fmt.Errorf("%w: %s is too small (%d bytes)", ErrCorruptedSegment, path, size)
	}

	// check header magic
	magic := make([]byte, len(segmentMagic))
	if err = readAt(file, magic, 0); err != nil {
		return nil, err
	}
	if string(magic) != segmentMagic {
		return nil, fmt.Errorf("%w: %s has an invalid header", ErrCorruptedSegment, path)
	}

	// read footer
	footer := make([]byte, footerSize)
	if err = readAt(file, footer, size-int64(footerSize)); err != nil {
		return nil, err
	}
	if string(footer[12:]) != segmentMagic {
		return nil, fmt.Errorf("%w: %s has an invalid footer", ErrCorruptedSegment, path)
	}
	indexOffset := int64(binary.LittleEndian.Uint64(footer[0:8]))
	checksum := binary.LittleEndian.Uint32(footer[8:12])

	indexEnd := size - int64(footerSize)
	if indexOffset < int64(len(segmentMagic)) || indexOffset+8 > indexEnd {
		return nil, fmt.Errorf("%w: %s has an invalid index offset", ErrCorruptedSegment, path)
	}

	// read and verify index
	indexBytes := make([]byte, indexEnd-indexOffset)
	if err = readAt(file, indexBytes, indexOffset); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(indexBytes) != checksum {
		return nil, fmt.Errorf("%w: %s index checksum mismatch", ErrCorruptedSegment, path)
	}

	keys, offsets, err := decodeIndex(indexBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptedSegment, path, err)
	}

	return &segment{
		seq:     seq,
		path:    path,
		file:    file,
		size:    size,
		dataEnd: indexOffset,
		keys:    keys,
		offsets: offsets,
	}, nil
}

// decodeIndex parses the index block of a segment
func decodeIndex(b []byte) (keys [][]byte, offsets []uint64, err error) {
	count := binary.LittleEndian.Uint64(b[0:8])
	pos := 8

	keys = make([][]byte, 0, count)
	offsets = make([]uint64, 0, count)

	for i := uint64(0); i < count; i++ {
		if pos+4 > len(b) {
			return nil, nil, fmt.Errorf("truncated index at entry %d", i)
		}
		keyLen := int(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4

		if pos+keyLen+8 > len(b) {
			return nil, nil, fmt.Errorf("truncated index at entry %d", i)
		}
		keys = append(keys, b[pos:pos+keyLen])
		pos += keyLen

		offsets = append(offsets, binary.LittleEndian.Uint64(b[pos:]))
		pos += 8
	}

	if pos != len(b) {
		return nil, nil, fmt.Errorf("%d trailing bytes after index", len(b)-pos)
	}

	return keys, offsets, nil
}

// get looks up key in the segment. Tombstones are returned as entries.
//
// Thread-safety: This method is thread-safe, reads use ReadAt only.
func (s *segment) get(key []byte) (db.Entry, bool, error) {
	i := sort.Search(len(s.keys), func(i int) bool {
		return bytes.Compare(s.keys[i], key) >= 0
	})
	if i == len(s.keys) || !bytes.Equal(s.keys[i], key) {
		return db.Entry{}, false, nil
	}

	entry, err := s.readRecord(s.offsets[i])
	if err != nil {
		return db.Entry{}, false, err
	}
	return entry, true, nil
}

// readRecord reads and decodes the record starting at offset
func (s *segment) readRecord(offset uint64) (db.Entry, error) {
	if offset+recordHeaderSize > uint64(s.dataEnd) {
		return db.Entry{}, fmt.Errorf("%w: %s: record offset %d out of range", ErrCorruptedSegment, s.path, offset)
	}

	var header [recordHeaderSize]byte
	if err := readAt(s.file, header[:], int64(offset)); err != nil {
		return db.Entry{}, fmt.Errorf("read record header in %s: %w", s.path, err)
	}

	keyLen := int(binary.LittleEndian.Uint32(header[0:4]))
	flags := header[4]
	valLen := int(binary.LittleEndian.Uint32(header[5:9]))

	// the record header is not covered by the index checksum
	if offset+recordHeaderSize+uint64(keyLen)+uint64(valLen) > uint64(s.dataEnd) {
		return db.Entry{}, fmt.Errorf("%w: %s: record at %d exceeds the data section", ErrCorruptedSegment, s.path, offset)
	}

	buf := make([]byte, keyLen+valLen)
	if err := readAt(s.file, buf, int64(offset)+recordHeaderSize); err != nil {
		return db.Entry{}, fmt.Errorf("read record in %s: %w", s.path, err)
	}

	key := buf[:keyLen]
	if flags&flagTombstone != 0 {
		return db.NewTombstone(key), nil
	}

	value, err := snappy.Decode(nil, buf[keyLen:])
	if err != nil {
		return db.Entry{}, fmt.Errorf("%w: %s: %v", ErrCorruptedSegment, s.path, err)
	}
	return db.NewEntry(key, value), nil
}

// readAt fills p from offset off. A read that fills p completely is a success
// even if the reader also reports io.EOF.
func readAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// close closes the underlying file
func (s *segment) close() error {
	return s.file.Close()
}
