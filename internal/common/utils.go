package common

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// GenerateRandByteArray returns size bytes from crypto/rand.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	_, _ = rand.Read(b)
	return b
}

// WipeByteArray zeroes b in place. Nil is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// RandomString draws size symbols uniformly from alphabet using crypto/rand.
// rand.Int rejects out-of-range samples, so there is no modulo bias.
func RandomString(alphabet string, size int) (string, error) {
	if len(alphabet) == 0 {
		return "", errors.New("empty alphabet")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, size)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// NewExperimentID returns a fresh 12-symbol alphanumeric experiment id.
func NewExperimentID() (string, error) {
	return RandomString(ExperimentIDAlphabet, ExperimentIDLength)
}
