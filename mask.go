package authcore

import "strings"

// MaskEmail hides most of the local part of an address: "ada@example.com"
// becomes "a**@example.com". Strings without an @ are fully masked.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local, domain := email[:at], email[at:]
	runes := []rune(local)
	if len(runes) == 1 {
		return "*" + domain
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1) + domain
}
