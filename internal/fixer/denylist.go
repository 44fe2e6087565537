package fixer

import "regexp"

// denyList rejects destructive command shapes before anything executes.
// A candidate whose command matches is skipped, never run.
var denyList = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"recursive delete", regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\b`)},
	{"delete from root", regexp.MustCompile(`\brm\s+(-[a-zA-Z]+\s+)*/(\s|$|')`)},
	{"database drop", regexp.MustCompile(`(?i)\bdrop\s+(database|table|schema)\b`)},
	{"table truncate", regexp.MustCompile(`(?i)\btruncate\s+table\b`)},
	{"forced operation", regexp.MustCompile(`\s--force\b`)},
	{"filesystem format", regexp.MustCompile(`\bmkfs(\.\w+)?\b`)},
	{"raw disk write", regexp.MustCompile(`\bdd\s+if=`)},
	{"system power", regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`)},
	{"kill all processes", regexp.MustCompile(`\bkillall\b|\bkill\s+-9\s+-1\b`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*{\s*:\|:`)},
	{"recursive chmod on root", regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)?\d+\s+/(\s|$|')`)},
}

// Denied reports whether the command matches the deny-list; the first
// matching entry's name is returned as the reason.
func Denied(command string) (string, bool) {
	for _, d := range denyList {
		if d.pattern.MatchString(command) {
			return d.name, true
		}
	}
	return "", false
}
