package local

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/sneh-joshi/litemq/internal/storage"
	"github.com/sneh-joshi/litemq/internal/types"
)

// journalMagic is the 4-byte header written at the start of every journal
// file. It identifies the file as a LiteMQ journal and encodes the format
// version.
var journalMagic = [4]byte{0x4C, 0x4D, 0x4A, 0x02} // "LMJ\x02"

// frameHeaderSize is totalLen(4) + lenChecksum(4).
const frameHeaderSize = 8

// frameFixedSize is the fixed part of every frame after its header:
//
//	op(1) + seq(8) + queueLen(2) + checksum(4) = 15
const frameFixedSize = 1 + 8 + 2 + 4

// maxFrameSize bounds totalLen so a damaged length prefix cannot make the
// scanner allocate the whole address space.
const maxFrameSize = 1 << 30

// maxQueueNameLen is the longest queue name a frame can carry.
const maxQueueNameLen = 1<<16 - 1

// encodeFrame serialises rec.
// Layout:
//
//	[totalLen:4][lenChecksum:4][op:1][seq:8][queueLen:2][queue:Q][data:N][checksum:4]
//
// totalLen = 15+Q+N and covers everything after the header, including the
// checksum. lenChecksum is the CRC of the totalLen bytes, so a damaged length
// is told apart from a short write. The checksum covers op through data.
func encodeFrame(rec types.Record) ([]byte, error) {
	if len(rec.Queue) > maxQueueNameLen {
		return nil, fmt.Errorf("journal: queue name is %d bytes, limit %d", len(rec.Queue), maxQueueNameLen)
	}
	totalLen := frameFixedSize + len(rec.Queue) + len(rec.Data)
	if totalLen > maxFrameSize {
		return nil, fmt.Errorf("journal: record of %d bytes exceeds frame limit", totalLen)
	}

	buf := make([]byte, frameHeaderSize+totalLen)
	binary.BigEndian.PutUint32(buf[0:], uint32(totalLen))
	binary.BigEndian.PutUint32(buf[4:], crc32.ChecksumIEEE(buf[0:4]))
	body := buf[frameHeaderSize:]
	body[0] = byte(rec.Op)
	binary.BigEndian.PutUint64(body[1:], rec.Seq)
	binary.BigEndian.PutUint16(body[9:], uint16(len(rec.Queue)))
	n := 11
	n += copy(body[n:], rec.Queue)
	n += copy(body[n:], rec.Data)
	binary.BigEndian.PutUint32(body[n:], crc32.ChecksumIEEE(body[:n]))
	return buf, nil
}

// decodeFrame parses the body of a frame (everything after its header) whose
// checksum has already been verified. The returned record aliases body.
func decodeFrame(body []byte) (types.Record, error) {
	op := types.Op(body[0])
	if !op.Valid() {
		return types.Record{}, fmt.Errorf("%w: unknown op %d", storage.ErrCorrupted, body[0])
	}
	seq := binary.BigEndian.Uint64(body[1:])
	qlen := int(binary.BigEndian.Uint16(body[9:]))
	end := len(body) - 4
	if 11+qlen > end {
		return types.Record{}, fmt.Errorf("%w: queue name overruns frame", storage.ErrCorrupted)
	}
	rec := types.Record{
		Op:    op,
		Seq:   seq,
		Queue: string(body[11 : 11+qlen]),
	}
	if op == types.OpEnqueue {
		rec.Data = body[11+qlen : end : end]
	}
	return rec, nil
}

// scanResult summarises one pass over a journal file.
type scanResult struct {
	validEnd int64 // offset just past the last intact frame
	records  int   // intact frames seen
}

// scanFrames reads every frame of the journal in r (size bytes, magic
// included) and hands the decoded records to fn in file order.
//
// Only a crash mid-append is forgiven: a partial header, a verified header
// whose body runs past the end of the file, a final frame failing its body
// checksum, or a zero-filled tail. Scanning stops there and validEnd tells
// the caller where to truncate. Any other damage is storage.ErrCorrupted.
func scanFrames(r io.ReaderAt, size int64, fn func(types.Record) error) (scanResult, error) {
	res := scanResult{validEnd: int64(len(journalMagic))}
	if size < int64(len(journalMagic)) {
		return res, fmt.Errorf("%w: journal shorter than its header", storage.ErrCorrupted)
	}
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return res, fmt.Errorf("journal: read header: %w", err)
	}
	if magic != journalMagic {
		return res, fmt.Errorf("%w: invalid journal header %x", storage.ErrCorrupted, magic)
	}

	br := bufio.NewReaderSize(io.NewSectionReader(r, res.validEnd, size-res.validEnd), 64<<10)
	off := res.validEnd
	for off < size {
		var hdr [frameHeaderSize]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return res, nil // torn header
			}
			return res, fmt.Errorf("journal: read frame at %d: %w", off, err)
		}
		if crc32.ChecksumIEEE(hdr[0:4]) != binary.BigEndian.Uint32(hdr[4:]) {
			if zeroTail(hdr[:], br) {
				return res, nil // preallocated blocks never written
			}
			return res, fmt.Errorf("%w: frame header checksum mismatch at offset %d", storage.ErrCorrupted, off)
		}
		totalLen := int64(binary.BigEndian.Uint32(hdr[0:4]))
		if totalLen < frameFixedSize || totalLen > maxFrameSize {
			return res, fmt.Errorf("%w: bad frame length %d at offset %d", storage.ErrCorrupted, totalLen, off)
		}
		end := off + frameHeaderSize + totalLen
		if end > size {
			return res, nil // frame was never fully written
		}

		body := make([]byte, totalLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return res, fmt.Errorf("journal: read frame at %d: %w", off, err)
		}
		stored := binary.BigEndian.Uint32(body[totalLen-4:])
		if crc32.ChecksumIEEE(body[:totalLen-4]) != stored {
			if end == size {
				return res, nil // torn final frame
			}
			return res, fmt.Errorf("%w: checksum mismatch at offset %d", storage.ErrCorrupted, off)
		}

		rec, err := decodeFrame(body)
		if err != nil {
			return res, fmt.Errorf("journal: frame at offset %d: %w", off, err)
		}
		if err := fn(rec); err != nil {
			return res, err
		}
		off = end
		res.validEnd = end
		res.records++
	}
	return res, nil
}

// zeroTail reports whether hdr and everything left in r are zero bytes.
func zeroTail(hdr []byte, r io.Reader) bool {
	for _, b := range hdr {
		if b != 0 {
			return false
		}
	}
	buf := make([]byte, 32<<10)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != 0 {
				return false
			}
		}
		if err != nil {
			return errors.Is(err, io.EOF)
		}
	}
}
