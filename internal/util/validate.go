package util

import (
	"html"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	e164Pattern    = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	otpCodePattern = regexp.MustCompile(`^\d{6}$`)
)

// IsE164 reports whether phone is an international number like +34612345678.
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// IsOTPCode reports whether code is exactly six ASCII digits.
func IsOTPCode(code string) bool {
	return otpCodePattern.MatchString(code)
}

// IsWalletAddress reports whether address is a 0x-prefixed 20-byte hex address.
func IsWalletAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// MaskPhone keeps the country prefix and the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

// SanitizeInput trims and escapes HTML in free-text metadata.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
