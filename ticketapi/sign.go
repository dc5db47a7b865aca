package ticketapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the SignRequest value on reservation calls.
const SignatureHeader = "X-Requested-Id"

const (
	signatureKey    = "2ad64e4b26c84fbabba58181de76f7b0"
	signatureLength = 10
)

// ErrUnsignable is returned for inventory ids SignRequest cannot sign.
var ErrUnsignable = errors.New("inventory id cannot be signed")

// CanSign reports whether SignRequest accepts inventoryID.
func CanSign(inventoryID string) bool {
	stripped := []rune(strings.ReplaceAll(inventoryID, "-", ""))
	key := []rune(signatureKey)
	if len(stripped) != len(key) {
		return false
	}
	for i, r := range stripped {
		if r^key[i] > 0xff {
			return false
		}
	}
	return true
}

// SignRequest derives the reservation signature for inventoryID: hyphens are
// stripped, every character is XORed with the matching key character, the
// bytes are base64 encoded and the first ten characters kept.
//
// SignRequest panics unless CanSign(inventoryID).
func SignRequest(inventoryID string) string {
	stripped := []rune(strings.ReplaceAll(inventoryID, "-", ""))
	key := []rune(signatureKey)
	if len(stripped) != len(key) {
		panic(fmt.Sprintf("ticketapi: inventory id %q strips to %d characters, signing key has %d", inventoryID, len(stripped), len(key)))
	}

	buf := make([]byte, len(stripped))
	for i, r := range stripped {
		x := r ^ key[i]
		if x > 0xff {
			panic(fmt.Sprintf("ticketapi: inventory id %q has a character outside latin-1", inventoryID))
		}
		buf[i] = byte(x)
	}
	return base64.StdEncoding.EncodeToString(buf)[:signatureLength]
}
