package util

import "strings"

// MaskSecret collapses a credential to its prefix plus a short head so that
// logs and audit records can correlate without ever carrying the plaintext.
// "rc_rt_k4jh2...":  "rc_rt_k4jh…"
func MaskSecret(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	i := strings.LastIndexByte(s, '_')
	head := 4
	if i > 0 && i+1+head <= len(s) {
		return s[:i+1+head] + "…"
	}
	if len(s) <= head {
		return "***"
	}
	return s[:head] + "…"
}

func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}
