// Package certificate derives certificate numbers and their security
// tokens. Tokens are HMAC-derived so possession of the database alone is
// not enough to forge one, and Crockford-encoded so they survive being
// read over the phone.
package certificate

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Alphabet is Crockford base32: no I, L, O, or U, so tokens cannot be
// misread as other characters or spell anything unfortunate.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	tokenLength = 15
	groupSize   = 5

	// fallbackClass appears in certificate numbers when the application
	// carries no class.
	fallbackClass = "XX"
)

// Data is the result of issuing a certificate.
type Data struct {
	Number string
	Token  string
	Year   int
	Class  string
}

// Issuer mints certificate numbers. Safe for concurrent use.
type Issuer struct {
	secret []byte
	prefix string
	now    func() time.Time
	rand   io.Reader
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the issuer's time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithRand overrides the entropy source.
func WithRand(r io.Reader) Option {
	return func(i *Issuer) { i.rand = r }
}

// NewIssuer constructs an issuer keyed with the given secret. The prefix is
// the registry designator leading every certificate number.
func NewIssuer(secret, prefix string, opts ...Option) *Issuer {
	i := &Issuer{
		secret: []byte(secret),
		prefix: prefix,
		now:    time.Now,
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Token derives the security token for an application's internal UID:
// HMAC-SHA256 over the UID, the current nanosecond timestamp, and fresh
// entropy, truncated to 15 Crockford characters in groups of five.
func (i *Issuer) Token(internalUID uuid.UUID) (string, error) {
	entropy := make([]byte, 32)
	if _, err := io.ReadFull(i.rand, entropy); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(internalUID.String()))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(i.now().UnixNano()))
	mac.Write(ts[:])
	mac.Write(entropy)

	encoded := encodeCrockford(mac.Sum(nil))
	if len(encoded) < tokenLength {
		// 32 HMAC bytes always encode to far more than 15 characters.
		return "", fmt.Errorf("token encoding underflow: %d chars", len(encoded))
	}
	return hyphenate(encoded[:tokenLength]), nil
}

// Issue derives a full certificate number for the application:
// PREFIX-CLASS-YY-TOKEN, where CLASS falls back to XX and YY is the
// two-digit issue year.
func (i *Issuer) Issue(class string, internalUID uuid.UUID) (*Data, error) {
	token, err := i.Token(internalUID)
	if err != nil {
		return nil, err
	}

	if class == "" {
		class = fallbackClass
	}
	class = strings.ToUpper(class)
	year := i.now().Year()

	return &Data{
		Number: fmt.Sprintf("%s-%s-%02d-%s", i.prefix, class, year%100, token),
		Token:  token,
		Year:   year,
		Class:  class,
	}, nil
}

// encodeCrockford renders the digest as base32 over the Crockford alphabet.
func encodeCrockford(digest []byte) string {
	n := new(big.Int).SetBytes(digest)
	base := big.NewInt(int64(len(Alphabet)))
	mod := new(big.Int)

	var sb strings.Builder
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		sb.WriteByte(Alphabet[mod.Int64()])
	}
	// Reverse: digits came out least-significant first.
	raw := []byte(sb.String())
	for l, r := 0, len(raw)-1; l < r; l, r = l+1, r-1 {
		raw[l], raw[r] = raw[r], raw[l]
	}
	return string(raw)
}

func hyphenate(s string) string {
	var groups []string
	for start := 0; start < len(s); start += groupSize {
		end := start + groupSize
		if end > len(s) {
			end = len(s)
		}
		groups = append(groups, s[start:end])
	}
	return strings.Join(groups, "-")
}
