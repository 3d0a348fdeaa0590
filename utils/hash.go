package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentHash returns the hex blake2b-256 digest of the canonical JSON
// encoding of v. Equal logical values hash equal regardless of map iteration
// order or the process that produced them.
func ContentHash(v interface{}) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}

	return HashBytes(data), nil
}

func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
