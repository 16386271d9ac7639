package lifecycle

import (
	"crypto/rand"
	"fmt"
)

const (
	trackingPrefix = "PF-"
	trackingLen    = 8
	// Crockford base32: no I, L, O, U
	crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// NewTrackingCode returns a random code of the form PF-XXXXXXXX.
func NewTrackingCode() (string, error) {
	var raw [trackingLen]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("tracking code: %w", err)
	}
	out := make([]byte, 0, len(trackingPrefix)+trackingLen)
	out = append(out, trackingPrefix...)
	for _, b := range raw {
		out = append(out, crockford[b&31])
	}
	return string(out), nil
}
