package domain

import (
	"regexp"
	"time"
)

// Driver is a member of the driver directory.
type Driver struct {
	ID      string
	Name    string
	Phone   string
	Vehicle string
	// Available is the single availability flag; the legacy is_active/is_available pair maps here.
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

var rePhone = regexp.MustCompile(`^\+[0-9]{10,14}$`)

// ValidatePhone reports whether s is an E.164-style number: "+" and 10 to 14 digits.
func ValidatePhone(s string) bool {
	return rePhone.MatchString(s)
}
