package ratelimit

import "strings"

// LoginKey builds a limiter key for first-factor attempts against an
// email address from a network origin.
func LoginKey(email, ip string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" && ip == "" {
		return ""
	}
	return "login:" + email + ":" + ip
}

// VerifyKey builds a limiter key for second-factor attempts on a pending
// login from a network origin.
func VerifyKey(subject, ip string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" && ip == "" {
		return ""
	}
	return "verify:" + subject + ":" + ip
}
