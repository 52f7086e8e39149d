package obs

import "strings"

// RedactToken shortens a token to a loggable fingerprint. Full token values
// must never reach a log sink.
func RedactToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}

// RedactEmail keeps the first two characters of the local part and the domain.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}
