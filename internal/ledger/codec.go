package ledger

import (
	"encoding/binary"
	"fmt"
	"time"

	"lukechampine.com/uint128"
)

// All keys and records are fixed-width big-endian, so bucket cursor order is
// numeric order and a record of the wrong size is detectable.
const (
	rangeKeySize     = 2
	jobKeySize       = 8
	rangeRecordSize  = 4 * 16
	jobRecordSize    = 2 + 16 + 16 + 8 + 8
	layoutRecordSize = 4 + 16 + 16
)

const schemaVersion uint32 = 1

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

func rangeKey(id uint16) []byte {
	k := make([]byte, rangeKeySize)
	binary.BigEndian.PutUint16(k, id)

	return k
}

func decodeRangeKey(k []byte) (uint16, error) {
	if len(k) != rangeKeySize {
		return 0, corruptf("range key has %d bytes, want %d", len(k), rangeKeySize)
	}

	return binary.BigEndian.Uint16(k), nil
}

func jobKey(id uint64) []byte {
	k := make([]byte, jobKeySize)
	binary.BigEndian.PutUint64(k, id)

	return k
}

func decodeJobKey(k []byte) (uint64, error) {
	if len(k) != jobKeySize {
		return 0, corruptf("job key has %d bytes, want %d", len(k), jobKeySize)
	}

	return binary.BigEndian.Uint64(k), nil
}

func encodeRange(r Range) []byte {
	b := make([]byte, rangeRecordSize)
	r.TweakCurrent.PutBytesBE(b[0:16])
	r.TweakEnd.PutBytesBE(b[16:32])
	r.KeyProgress.PutBytesBE(b[32:48])
	r.KeyCommitted.PutBytesBE(b[48:64])

	return b
}

func decodeRange(id uint16, b []byte) (Range, error) {
	if len(b) != rangeRecordSize {
		return Range{}, corruptf("range %d record has %d bytes, want %d", id, len(b), rangeRecordSize)
	}

	return Range{
		ID:           id,
		TweakCurrent: uint128.FromBytesBE(b[0:16]),
		TweakEnd:     uint128.FromBytesBE(b[16:32]),
		KeyProgress:  uint128.FromBytesBE(b[32:48]),
		KeyCommitted: uint128.FromBytesBE(b[48:64]),
	}, nil
}

func encodeJob(j Job) []byte {
	b := make([]byte, jobRecordSize)
	binary.BigEndian.PutUint16(b[0:2], j.RangeID)
	j.TweakKey.PutBytesBE(b[2:18])
	j.StartKey.PutBytesBE(b[18:34])
	binary.BigEndian.PutUint64(b[34:42], j.Len)
	binary.BigEndian.PutUint64(b[42:50], unixSeconds(j.StartTime))

	return b
}

func decodeJob(id uint64, b []byte) (Job, error) {
	if len(b) != jobRecordSize {
		return Job{}, corruptf("job %d record has %d bytes, want %d", id, len(b), jobRecordSize)
	}

	return Job{
		ID:        id,
		RangeID:   binary.BigEndian.Uint16(b[0:2]),
		TweakKey:  uint128.FromBytesBE(b[2:18]),
		StartKey:  uint128.FromBytesBE(b[18:34]),
		Len:       binary.BigEndian.Uint64(b[34:42]),
		StartTime: time.Unix(int64(binary.BigEndian.Uint64(b[42:50])), 0).UTC(), //nolint:gosec // seconds since epoch fit int64
	}, nil
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}

	return uint64(s)
}

func encodeLayout(l Layout) []byte {
	b := make([]byte, layoutRecordSize)
	binary.BigEndian.PutUint32(b[0:4], l.Count)
	l.Span.PutBytesBE(b[4:20])
	l.KeyMax.PutBytesBE(b[20:36])

	return b
}

func decodeLayout(b []byte) (Layout, error) {
	if len(b) != layoutRecordSize {
		return Layout{}, corruptf("layout record has %d bytes, want %d", len(b), layoutRecordSize)
	}

	return Layout{
		Count:  binary.BigEndian.Uint32(b[0:4]),
		Span:   uint128.FromBytesBE(b[4:20]),
		KeyMax: uint128.FromBytesBE(b[20:36]),
	}, nil
}

func encodeVersion(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)

	return b
}
