// Package confirm issues and checks the one-time codes a requester hands to
// the counterparty in person.
package confirm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// CodeLength is the number of characters in a confirmation code.
const CodeLength = 6

// Alphabet omits 0/O, 1/I/L and U so codes survive being read aloud.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTVWXYZ"

var ErrMalformedKey = errors.New("confirm: seal key must be 32 bytes base64")

// Code is a freshly issued confirmation code. Plain is never persisted.
type Code struct {
	Plain  string
	Hash   []byte
	Sealed string
}

type Verifier struct {
	cost int
	aead cipher.AEAD
	rand io.Reader
}

// NewVerifier builds a verifier. sealKey is a base64 AES-256 key used to keep
// a copy of the code the requester may view again while the request is pending.
func NewVerifier(sealKey string, bcryptCost int) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(sealKey)
	if err != nil || len(key) != 32 {
		return nil, ErrMalformedKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("confirm: bcrypt cost %d out of range", bcryptCost)
	}
	return &Verifier{cost: bcryptCost, aead: aead, rand: rand.Reader}, nil
}

func (v *Verifier) Issue() (Code, error) {
	plain, err := RandomString(v.rand, Alphabet, CodeLength)
	if err != nil {
		return Code{}, fmt.Errorf("generate code: %w", err)
	}
	// bcrypt salts internally.
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), v.cost)
	if err != nil {
		return Code{}, fmt.Errorf("hash code: %w", err)
	}
	sealed, err := v.seal(plain)
	if err != nil {
		return Code{}, err
	}
	return Code{Plain: plain, Hash: hash, Sealed: sealed}, nil
}

// Verify compares a supplied code against the stored hash in constant time.
func (v *Verifier) Verify(hash []byte, supplied string) bool {
	if len(hash) == 0 || len(supplied) != CodeLength {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(Normalize(supplied))) == nil
}

// Reveal returns the plaintext of a sealed code.
func (v *Verifier) Reveal(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("confirm: sealed code too short")
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *Verifier) seal(plain string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", err
	}
	out := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Normalize upper-cases a code typed by a human.
func Normalize(code string) string {
	b := []byte(code)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// RandomString draws n symbols uniformly from alphabet using r.
func RandomString(r io.Reader, alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(r, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
