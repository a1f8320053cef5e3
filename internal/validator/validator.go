package validator

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
)

var (
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

var (
	ErrInvalidCardNumber = errors.New("invalid card number")
	ErrInvalidCardExpiry = errors.New("invalid card expiry")
	ErrCardExpired       = errors.New("card expired")
	ErrInvalidCVV        = errors.New("invalid cvv")
)

var (
	cardSeparatorRegex = regexp.MustCompile(`[\s-]`)
	cardNumberRegex    = regexp.MustCompile(`^[0-9]{13,19}$`)
	cardExpiryRegex    = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvRegex           = regexp.MustCompile(`^[0-9]{3,4}$`)
)

// ValidateCardNumber checks length and the Luhn checksum. Spaces and dashes
// are ignored.
func ValidateCardNumber(number string) error {
	digits := cardSeparatorRegex.ReplaceAllString(number, "")
	if !cardNumberRegex.MatchString(digits) {
		return ErrInvalidCardNumber
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	if sum%10 != 0 {
		return ErrInvalidCardNumber
	}
	return nil
}

// ValidateCardExpiry accepts MM/YY. A card is valid through the last day of
// its expiry month.
func ValidateCardExpiry(expiry string, now time.Time) error {
	match := cardExpiryRegex.FindStringSubmatch(expiry)
	if match == nil {
		return ErrInvalidCardExpiry
	}
	month, _ := strconv.Atoi(match[1])
	year, _ := strconv.Atoi(match[2])
	firstInvalid := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.UTC().Before(firstInvalid) {
		return ErrCardExpired
	}
	return nil
}

func ValidateCVV(cvv string) error {
	if !cvvRegex.MatchString(cvv) {
		return ErrInvalidCVV
	}
	return nil
}
