package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content".
// Equal content of equal type always yields the same Hash.
func HashObject(objType ObjectType, data []byte) Hash {
	h := sha256.New()
	h.Write(envelopeHeader(objType, len(data)))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

func envelopeHeader(objType ObjectType, n int) []byte {
	buf := make([]byte, 0, len(objType)+12)
	buf = append(buf, objType...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, 0)
}

// ValidateHash checks that h is a 64-character lowercase hex SHA-256 digest.
func ValidateHash(h Hash) error {
	s := string(h)
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != 64 {
		return fmt.Errorf("hash length %d, expected 64", len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("hash %q contains non-hex character %q", s, c)
		}
	}
	return nil
}
