package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrInvalidHours    = errors.New("hours must be a positive multiple of 0.5")
)

// HoursScale is the number of stored units per hour.
const HoursScale = 100

// HalfHour is the smallest transferable quantity of hours, in stored units.
const HalfHour = HoursScale / 2

var (
	halfHour = decimal.New(5, -1)
	maxUnits = decimal.NewFromInt(math.MaxInt64)
)

// maxWhole is the largest whole part whose minor-unit value fits in int64.
const maxWhole = (math.MaxInt64 - 99) / 100

func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	parts := strings.SplitN(trimmed, ".", 2)
	wholePart := parts[0]
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) {
		return 0, ErrInvalidAmount
	}
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > 2 {
		return 0, ErrTooManyDecimals
	}
	if fracPart != "" && !isDigits(fracPart) {
		return 0, ErrInvalidAmount
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil || whole > maxWhole {
		return 0, ErrInvalidAmount
	}
	frac := int64(0)
	if len(fracPart) == 1 {
		frac = int64(fracPart[0]-'0') * 10
	} else if len(fracPart) == 2 {
		value, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		frac = value
	}
	minor := whole*100 + frac
	return sign * minor, nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	whole := value / 100
	frac := value % 100
	formatted := fmt.Sprintf("%d.%02d", whole, frac)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// ParseHours converts "1.5" to 150. Only positive half-hour steps are accepted.
func ParseHours(input string) (int64, error) {
	hours, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return 0, ErrInvalidHours
	}
	if !hours.IsPositive() || !hours.Mod(halfHour).IsZero() {
		return 0, ErrInvalidHours
	}
	units := hours.Mul(decimal.NewFromInt(HoursScale))
	if units.GreaterThan(maxUnits) {
		return 0, ErrInvalidHours
	}
	return units.IntPart(), nil
}

// ValidHours reports whether a stored hours quantity is a positive half-hour step.
func ValidHours(units int64) bool {
	return units > 0 && units%HalfHour == 0
}

func FormatHours(units int64) string {
	return decimal.New(units, -2).StringFixed(1)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
