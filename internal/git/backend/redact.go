package backend

import (
	"regexp"
	"strings"
)

var (
	// Userinfo runs to the last @ before the host, passwords may contain @.
	urlCredentialRe = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.-]*://)[^\s/]+@`)
	secretParamRe   = regexp.MustCompile(`(?i)\b(token|secret|password|passwd|bearer)=[^\s&]+`)
)

// Redact removes credentials embedded in URLs (scheme://token@host becomes
// scheme://***@host) and obvious secret parameters from s.
func Redact(s string) string {
	s = urlCredentialRe.ReplaceAllString(s, "${1}***@")
	s = secretParamRe.ReplaceAllString(s, "${1}=***")
	return s
}

// sanitizeArgs renders an argument list for logs and error messages.
func sanitizeArgs(args []string) string {
	if len(args) == 0 {
		return "<no-args>"
	}
	return Redact(strings.Join(args, " "))
}
