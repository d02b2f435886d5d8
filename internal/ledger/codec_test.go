package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"lukechampine.com/uint128"
)

func Test_EncodeRange_Writes_Four_Big_Endian_Counters(t *testing.T) {
	t.Parallel()

	r := Range{
		ID:           9,
		TweakCurrent: uint128.From64(1),
		TweakEnd:     uint128.New(0, 1),
		KeyProgress:  uint128.From64(0x0203),
		KeyCommitted: uint128.Max,
	}

	want := "00000000000000000000000000000001" +
		"00000000000000010000000000000000" +
		"00000000000000000000000000000203" +
		"ffffffffffffffffffffffffffffffff"

	if got := hex.EncodeToString(encodeRange(r)); got != want {
		t.Fatalf("encodeRange = %s, want %s", got, want)
	}

	back, err := decodeRange(9, encodeRange(r))
	if err != nil {
		t.Fatalf("decodeRange: %v", err)
	}

	if back != r {
		t.Fatalf("decodeRange = %+v, want %+v", back, r)
	}
}

func Test_DecodeJob_Restores_Encoded_Lease(t *testing.T) {
	t.Parallel()

	j := Job{
		ID:        42,
		RangeID:   0xbeef,
		TweakKey:  uint128.New(5, 6),
		StartKey:  uint128.From64(1),
		Len:       1 << 40,
		StartTime: testNow,
	}

	b := encodeJob(j)
	if len(b) != jobRecordSize {
		t.Fatalf("record size = %d, want %d", len(b), jobRecordSize)
	}

	got, err := decodeJob(42, b)
	if err != nil {
		t.Fatalf("decodeJob: %v", err)
	}

	if diff := cmp.Diff(j, got); diff != "" {
		t.Fatalf("decodeJob mismatch (-want +got):\n%s", diff)
	}
}

func Test_Keys_Sort_In_Numeric_Order(t *testing.T) {
	t.Parallel()

	if bytes.Compare(jobKey(255), jobKey(256)) >= 0 {
		t.Fatal("job key 255 does not sort before 256")
	}

	if bytes.Compare(rangeKey(255), rangeKey(256)) >= 0 {
		t.Fatal("range key 255 does not sort before 256")
	}
}

func Test_Decode_Returns_ErrCorrupt_When_Record_Has_Wrong_Width(t *testing.T) {
	t.Parallel()

	_, err := decodeRange(0, make([]byte, rangeRecordSize-1))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("decodeRange err = %v, want ErrCorrupt", err)
	}

	_, err = decodeJob(0, make([]byte, jobRecordSize+1))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("decodeJob err = %v, want ErrCorrupt", err)
	}

	_, err = decodeJobKey([]byte{1, 2, 3})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("decodeJobKey err = %v, want ErrCorrupt", err)
	}

	_, err = decodeLayout(nil)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("decodeLayout err = %v, want ErrCorrupt", err)
	}
}

func Test_DecodeLayout_Restores_Encoded_Layout(t *testing.T) {
	t.Parallel()

	got, err := decodeLayout(encodeLayout(DefaultLayout()))
	if err != nil {
		t.Fatalf("decodeLayout: %v", err)
	}

	if !got.Equal(DefaultLayout()) {
		t.Fatalf("layout = %s, want %s", got, DefaultLayout())
	}
}
