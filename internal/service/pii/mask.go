// Package pii redacts personal data from user text before it is stored for display.
package pii

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	phoneMask = "*******"
	// 越南手机号 10 位，座机 10-11 位；更短的数字串多为价格或日期
	minPhoneDigits = 9
)

var (
	emailPattern = regexp.MustCompile(`([\pL\pN._%+\-])[\pL\pN._%+\-]*@([\pL\pN\-]+(?:\.[\pL\pN\-]+)+)`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
	// A 1-5 digit token, optionally suffixed by a letter, followed by a street name.
	// Only the start of a line, a "label:" prefix or an address cue word counts
	// as leading, so quantities such as "Đặt 2 pizza" survive.
	houseNumberPattern = regexp.MustCompile(`(^|\n|[:;]\s+|(?:^|\s)(?i:to|số|địa chỉ|address)\s+)\d{1,5}[A-Za-z]?\s+(\pL)`)
)

// Mask replaces emails, phone numbers (at least nine digits) and leading house
// numbers in text.
// Rules run in that order; the result is deterministic.
func Mask(text string) string {
	if text == "" {
		return text
	}

	masked := emailPattern.ReplaceAllString(text, "$1***@$2")
	masked = phonePattern.ReplaceAllStringFunc(masked, maskPhoneCandidate)
	masked = houseNumberPattern.ReplaceAllString(masked, "$1$2")
	return masked
}

// maskPhoneCandidate leaves digit runs too short to be a phone number untouched.
func maskPhoneCandidate(match string) string {
	if countDigits(match) < minPhoneDigits {
		return match
	}
	return maskPhone(match)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func maskPhone(match string) string {
	digits := make([]rune, 0, len(match))
	for _, r := range match {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return phoneMask
	}

	var b strings.Builder
	b.WriteString(phoneMask)
	b.WriteString(string(digits[len(digits)-3:]))
	return b.String()
}
