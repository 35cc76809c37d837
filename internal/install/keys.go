package install

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Trusted keys are 2048-bit RSA public keys with exponent 3, stored as
// the dump format produced by the signing tools:
//
//	{64,0xc926ad21,{1795090719,...},{-857949815,...}}
//
// i.e. {len, n0inv, {n0..n63}, {rr0..rr63}} with the modulus in
// little-endian 32-bit words. n0inv and rr are montgomery precomputation
// values; only the modulus matters here. Multiple keys are separated by
// commas. Any parse error rejects the entire file: a device that cannot
// read its key file must trust nothing.

const (
	keyWords       = 64
	publicExponent = 3
)

var ErrBadKeyFile = errors.New("install: malformed key file")

// LoadKeys parses the trusted key file. It is called fresh on every
// install; keys are never cached across invocations.
func LoadKeys(path string) ([]*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("install: read keys %s: %w", path, err)
	}
	keys, err := parseKeys(string(b))
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrBadKeyFile, path, err)
	}
	return keys, nil
}

func parseKeys(s string) ([]*rsa.PublicKey, error) {
	p := &keyParser{rest: s}
	var keys []*rsa.PublicKey
	for {
		key, err := p.key()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		p.skipSpace()
		if p.rest == "" {
			break
		}
		if !p.literal(",") {
			return nil, fmt.Errorf("unexpected %q after key %d", p.rest[0], len(keys))
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no keys")
	}
	return keys, nil
}

type keyParser struct {
	rest string
}

func (p *keyParser) skipSpace() {
	p.rest = strings.TrimLeftFunc(p.rest, unicode.IsSpace)
}

func (p *keyParser) literal(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.rest, tok) {
		p.rest = p.rest[len(tok):]
		return true
	}
	return false
}

// integer accepts what C's %i accepts: optional sign, decimal, or 0x hex.
func (p *keyParser) integer() (int64, error) {
	p.skipSpace()
	i := 0
	if i < len(p.rest) && (p.rest[i] == '-' || p.rest[i] == '+') {
		i++
	}
	if i+1 < len(p.rest) && p.rest[i] == '0' && (p.rest[i+1] == 'x' || p.rest[i+1] == 'X') {
		i += 2
	}
	start := i
	for i < len(p.rest) && isIntDigit(p.rest[i]) {
		i++
	}
	if i == start {
		return 0, errors.New("expected integer")
	}
	v, err := strconv.ParseInt(p.rest[:i], 0, 64)
	if err != nil {
		return 0, err
	}
	p.rest = p.rest[i:]
	return v, nil
}

func isIntDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func (p *keyParser) words(n int) ([]uint32, error) {
	if !p.literal("{") {
		return nil, errors.New("expected '{'")
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		if i > 0 && !p.literal(",") {
			return nil, fmt.Errorf("expected ',' before word %d", i)
		}
		v, err := p.integer()
		if err != nil {
			return nil, err
		}
		out[i] = uint32(v)
	}
	if !p.literal("}") {
		return nil, errors.New("expected '}'")
	}
	return out, nil
}

func (p *keyParser) key() (*rsa.PublicKey, error) {
	if !p.literal("{") {
		return nil, errors.New("expected '{'")
	}
	length, err := p.integer()
	if err != nil {
		return nil, err
	}
	if length != keyWords {
		return nil, fmt.Errorf("key length %d words, expected %d", length, keyWords)
	}
	if !p.literal(",") {
		return nil, errors.New("expected ',' after length")
	}
	if _, err := p.integer(); err != nil { // n0inv, unused
		return nil, err
	}
	if !p.literal(",") {
		return nil, errors.New("expected ',' after n0inv")
	}
	n, err := p.words(keyWords)
	if err != nil {
		return nil, err
	}
	if !p.literal(",") {
		return nil, errors.New("expected ',' after modulus")
	}
	if _, err := p.words(keyWords); err != nil { // rr, unused
		return nil, err
	}
	if !p.literal("}") {
		return nil, errors.New("expected '}' closing key")
	}
	return &rsa.PublicKey{N: wordsToBig(n), E: publicExponent}, nil
}

// wordsToBig assembles little-endian 32-bit words into a modulus.
func wordsToBig(words []uint32) *big.Int {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		off := len(b) - 4*(i+1)
		b[off] = byte(w >> 24)
		b[off+1] = byte(w >> 16)
		b[off+2] = byte(w >> 8)
		b[off+3] = byte(w)
	}
	return new(big.Int).SetBytes(b)
}
