// Package u256 is the 256-bit key representation shared by the ledger and
// the search workers.
//
// A value is eight 32-bit limbs, limb 0 least significant. That is the
// layout the search kernels consume directly, so the limb order and the hex
// text form are part of the wire contract:
//
//	limbs: [l0 l1 l2 l3 l4 l5 l6 l7]
//	text:  hex(l7) hex(l6) ... hex(l0)   (each limb as 4 big-endian bytes)
//
// Additions never wrap silently. They return the carry out of limb 7 so the
// caller can treat it as overflow.
package u256

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"lukechampine.com/uint128"
)

// Limbs is the number of 32-bit limbs in a [Uint256].
const Limbs = 8

// HexLen is the length of the canonical text form.
const HexLen = Limbs * 8

// ErrInvalidHex reports text that is not a 256-bit hex value.
var ErrInvalidHex = errors.New("invalid u256 hex")

// Uint256 is an unsigned 256-bit integer stored as little-endian limbs.
type Uint256 [Limbs]uint32

// Zero is the zero value.
var Zero Uint256

// Max is 2^256-1.
var Max = Uint256{
	0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff,
	0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff,
}

// FromUint128 widens a 128-bit value into the low four limbs.
func FromUint128(v uint128.Uint128) Uint256 {
	return Uint256{
		uint32(v.Lo), uint32(v.Lo >> 32),
		uint32(v.Hi), uint32(v.Hi >> 32),
	}
}

// FromUint64 places v in the low two limbs.
func FromUint64(v uint64) Uint256 {
	return Uint256{uint32(v), uint32(v >> 32)}
}

// FromUint32 places v in limb 0.
func FromUint32(v uint32) Uint256 {
	return Uint256{v}
}

// AddU128 returns a+b and the carry out of the most significant limb.
func (a Uint256) AddU128(b uint128.Uint128) (Uint256, bool) {
	return a.Add(FromUint128(b))
}

// AddU32 returns a+b and the carry out of the most significant limb.
func (a Uint256) AddU32(b uint32) (Uint256, bool) {
	return a.Add(FromUint32(b))
}

// Add returns a+b and the carry out of the most significant limb.
func (a Uint256) Add(b Uint256) (Uint256, bool) {
	var (
		res   Uint256
		carry uint32
	)

	for i := range Limbs {
		res[i], carry = bits.Add32(a[i], b[i], carry)
	}

	return res, carry != 0
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Uint256) Cmp(b Uint256) int {
	for i := Limbs - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}

	return 0
}

// IsZero reports whether every limb is zero.
func (a Uint256) IsZero() bool {
	return a == Zero
}

// Hex returns the 64-character canonical text form.
func (a Uint256) Hex() string {
	var buf [Limbs * 4]byte

	for i := range Limbs {
		binary.BigEndian.PutUint32(buf[(Limbs-1-i)*4:], a[i])
	}

	return hex.EncodeToString(buf[:])
}

// String implements fmt.Stringer.
func (a Uint256) String() string {
	return a.Hex()
}

// ParseHex parses the canonical text form.
//
// Shorter inputs are accepted when their length is a whole number of limbs
// (a multiple of 8 characters); the missing high limbs are zero.
func ParseHex(s string) (Uint256, error) {
	if len(s) == 0 || len(s) > HexLen || len(s)%8 != 0 {
		return Zero, fmt.Errorf("%w: length %d", ErrInvalidHex, len(s))
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}

	var res Uint256

	limbs := len(raw) / 4
	for i := range limbs {
		off := (limbs - 1 - i) * 4
		res[i] = binary.BigEndian.Uint32(raw[off : off+4])
	}

	return res, nil
}

// MustParseHex is like [ParseHex] but panics on error.
func MustParseHex(s string) Uint256 {
	v, err := ParseHex(s)
	if err != nil {
		panic(err)
	}

	return v
}
