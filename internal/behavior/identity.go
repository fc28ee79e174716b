package behavior

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"tg-guardian/internal/gateway"
)

var generatedUsernameRegex = regexp.MustCompile(`[a-z]{3,}\d{3,}`)

var suspiciousUsernamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[a-z]+\d{5,}$`),
	regexp.MustCompile(`^\d+[a-z]+\d+$`),
	regexp.MustCompile(`^(test|temp|fake|spam)\d+$`),
	regexp.MustCompile(`^[a-z]{1,3}\d{8,}$`),
}

// identityIndicators lists the signs that an account was mass-created.
func identityIndicators(u gateway.User) []string {
	var found []string
	if !u.HasAvatar {
		found = append(found, "no profile photo")
	}

	username := strings.ToLower(u.Username)
	if countDigits(username) > 5 {
		found = append(found, "numeric-heavy username")
	}
	if generatedUsernameRegex.MatchString(username) {
		found = append(found, "generated username")
	}

	if u.FirstName != "" {
		if n := utf8.RuneCountInString(u.FirstName); n < 2 || n > 20 {
			found = append(found, "unusual name length")
		}
		if isNumeric(u.FirstName) {
			found = append(found, "numeric name")
		}
	}
	return found
}

// SuspiciousUsername reports whether the username matches a known throwaway pattern.
func SuspiciousUsername(username string) bool {
	if username == "" {
		return false
	}
	username = strings.ToLower(username)
	for _, p := range suspiciousUsernamePatterns {
		if p.MatchString(username) {
			return true
		}
	}
	return false
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

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
