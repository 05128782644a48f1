// Package refcode issues the referral codes printed on flyers, door
// hangers and yard signs. A code travels as ?ref= on the landing URL and
// is stored on the visit row.
package refcode

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
)

// No 0/O or 1/I/L: codes get read aloud and typed from paper.
const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const Length = 8

var maxIdx = big.NewInt(int64(len(charset)))

// Generate returns a random code of Length characters.
func Generate() (string, error) {
	b := make([]byte, Length)
	for i := range b {
		n, err := rand.Int(rand.Reader, maxIdx)
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}
	return string(b), nil
}

// Normalize upper-cases a code as typed by a visitor.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code could have been issued by Generate.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(charset, rune(code[i])) {
			return false
		}
	}
	return true
}

// LandingURL is the URL a printed code points at.
func LandingURL(domain, code string) string {
	u := url.URL{Scheme: "https", Host: domain, Path: "/"}
	u.RawQuery = url.Values{"ref": {code}}.Encode()
	return u.String()
}
