package util

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewUUID returns a new base58 encoded UUID. Used for request correlation ids.
func NewUUID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns a string of length n drawn from an alphanumeric
// alphabet using crypto/rand. Suitable for unguessable short-lived tokens.
func RandomString(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}
