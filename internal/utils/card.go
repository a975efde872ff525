package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	cardNumberLength = 16
	cvvLength        = 3
	maskPrefix       = "**** **** **** "
)

// CleanCardNumber strips every whitespace character from number
func CleanCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

// ValidateCardNumber reports whether the cleaned number is exactly 16 ASCII
// digits and passes the Luhn checksum
func ValidateCardNumber(number string) bool {
	clean := CleanCardNumber(number)
	if len(clean) != cardNumberLength || !isDigits(clean) {
		return false
	}
	return luhnSum(clean, false)%10 == 0
}

// ValidateCVV reports whether cvv is exactly three ASCII digits
func ValidateCVV(cvv string) bool {
	return len(cvv) == cvvLength && isDigits(cvv)
}

// MaskCardNumber hides everything but the last four characters, e.g.
// 1234567890123456 -> **** **** **** 3456
func MaskCardNumber(number string) string {
	if len(number) < 4 {
		return "****"
	}
	clean := CleanCardNumber(number)
	return maskPrefix + clean[max(0, len(clean)-4):]
}

// FormatCardNumber groups a 16-digit number into four blocks of four.
// Input of any other cleaned length is returned as is.
func FormatCardNumber(number string) string {
	clean := CleanCardNumber(number)
	if len(clean) != cardNumberLength {
		return number
	}
	return clean[0:4] + " " + clean[4:8] + " " + clean[8:12] + " " + clean[12:16]
}

// GenerateCardNumber generates a Luhn-valid 16 digit number starting with 4 or 5
func GenerateCardNumber() (string, error) {
	var builder strings.Builder
	builder.Grow(cardNumberLength)

	prefix, err := randomDigit(2)
	if err != nil {
		return "", fmt.Errorf("failed to generate card prefix: %w", err)
	}
	builder.WriteByte('4' + prefix)

	for i := 0; i < cardNumberLength-2; i++ {
		d, err := randomDigit(10)
		if err != nil {
			return "", fmt.Errorf("failed to generate random digits: %w", err)
		}
		builder.WriteByte('0' + d)
	}

	builder.WriteByte('0' + LuhnCheckDigit(builder.String()))
	return builder.String(), nil
}

// GenerateCVV generates a zero padded 3-digit CVV code
func GenerateCVV() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate cvv: %w", err)
	}
	return fmt.Sprintf("%03d", n.Int64()), nil
}

// LuhnCheckDigit returns the digit that makes partial+digit Luhn valid.
// partial must contain only ASCII digits.
func LuhnCheckDigit(partial string) byte {
	sum := luhnSum(partial, true)
	return byte((10 - sum%10) % 10)
}

// luhnSum walks the digits right to left, doubling every second one. When
// doubleFirst is set the rightmost digit is doubled as well.
func luhnSum(digits string, doubleFirst bool) int {
	sum := 0
	double := doubleFirst
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
	return sum
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func randomDigit(n int64) (byte, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return byte(v.Int64()), nil
}
