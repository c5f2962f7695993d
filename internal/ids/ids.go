// Package ids provides identifier helpers: sortable event IDs and the reversible
// display-ID obfuscator used at the API boundary.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for append-only records.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ErrInvalidID is returned when a display ID cannot be decoded.
var ErrInvalidID = errors.New("invalid id")

// Obfuscator turns numeric primary keys into opaque display strings and back.
// It is a presentation concern only and must never drive authorization.
type Obfuscator interface {
	Encode(id uint64) string
	Decode(s string) (uint64, error)
}

// multiplicative mixing over Z/2^64; mult must be odd to be invertible
type mixObfuscator struct {
	xor  uint64
	mult uint64
	inv  uint64
}

// NewObfuscator derives a keyed, reversible obfuscator from salt.
func NewObfuscator(salt string) Obfuscator {
	sum := sha256.Sum256([]byte("itinera-ids:" + salt))
	xor := binary.BigEndian.Uint64(sum[0:8])
	mult := binary.BigEndian.Uint64(sum[8:16]) | 1
	return &mixObfuscator{xor: xor, mult: mult, inv: inverse(mult)}
}

func (o *mixObfuscator) Encode(id uint64) string {
	return strconv.FormatUint((id^o.xor)*o.mult, 36)
}

func (o *mixObfuscator) Decode(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrInvalidID
	}
	v, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return 0, ErrInvalidID
	}
	return (v * o.inv) ^ o.xor, nil
}

// inverse computes the multiplicative inverse of an odd a modulo 2^64 (Newton iteration).
func inverse(a uint64) uint64 {
	x := a
	for i := 0; i < 5; i++ {
		x *= 2 - a*x
	}
	return x
}
