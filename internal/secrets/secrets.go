// Package secrets generates order references and delivery codes and produces
// the digests stored in place of phone numbers and codes. Plaintext delivery
// codes exist only in the create-order response; only digests are persisted.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	referencePrefix = "ZEM-"
	referenceLen    = 6
	codeLen         = 6
)

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var nonDigits = regexp.MustCompile(`\D`)

// GenerateOrderReference returns a reference like ZEM-7K2Q9F. Uniqueness is
// enforced by the orders table; callers retry on collision.
func GenerateOrderReference() (string, error) {
	var b strings.Builder
	b.WriteString(referencePrefix)
	for i := 0; i < referenceLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36))))
		if err != nil {
			return "", err
		}
		b.WriteByte(base36[n.Int64()])
	}
	return b.String(), nil
}

// GenerateDeliveryCode returns a random 6-digit code.
func GenerateDeliveryCode() (string, error) {
	var b strings.Builder
	for i := 0; i < codeLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NormalizePhone canonicalizes Kenyan MSISDNs to 254XXXXXXXXX. Equivalent
// inputs (0712..., +254712..., 712...) normalize identically; anything that
// does not end up as 12 digits is rejected with "".
func NormalizePhone(s string) string {
	s = nonDigits.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "0") {
		s = "254" + s[1:]
	} else if !strings.HasPrefix(s, "254") {
		s = "254" + s
	}
	if len(s) != 12 {
		return ""
	}
	return s
}

// Hasher produces digests for phones and delivery codes.
//
// Phone digests must be deterministic because the abuse guard groups orders by
// buyer digest; they use HMAC-SHA256 keyed with a server-side pepper. Delivery
// codes are only ever verified against a single stored row, so they get the
// slow salted hash.
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// PhoneDigest returns the hex HMAC of a normalized phone number.
func (h *Hasher) PhoneDigest(normalizedPhone string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(normalizedPhone))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashDeliveryCode bcrypts a delivery code for storage.
func (h *Hasher) HashDeliveryCode(code string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// VerifyDeliveryCode compares a plaintext code against a stored digest in
// constant time. It returns only match/no-match; never which part differed.
func (h *Hasher) VerifyDeliveryCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// LastFour returns the trailing digits kept in plaintext for display.
func LastFour(phone string) string {
	if len(phone) < 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
