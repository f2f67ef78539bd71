// Package identity holds the account-side view of a subscriber: the User
// record delivered by account lifecycle triggers and the subscriber hash the
// audience service uses as its per-member key.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// User is an account record from the identity provider.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// SubscriberHash returns the audience member identifier for an email:
// the hex MD5 of the lower-cased address.
//
// MD5 is the audience service's published identifier scheme. It is not a
// security boundary.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}
