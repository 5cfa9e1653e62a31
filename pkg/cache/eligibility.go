package cache

import (
	"regexp"
	"strings"
)

// Cache eligibility is a conservative syntactic filter: a command that
// writes anywhere must never be served from cache. The scan covers the
// whole command line, so chained forms like "echo a && rm b" are caught,
// but write verbs outside the list (mkdir, rsync, curl -o) slip through.
// That tradeoff is accepted; do not tighten or loosen it casually.
var (
	writeCommandRe = regexp.MustCompile(`(?i)\b(` +
		`rm|rmdir|mv|cp|dd|truncate|touch|chmod|chown|chgrp|` +
		`sed|perl|python|tee|` +
		`apt|apt-get|yum|dnf|pacman|systemctl|service|` +
		`useradd|userdel|usermod|groupadd|groupdel|groupmod|` +
		`iptables|ufw|firewall-cmd|` +
		`reboot|shutdown` +
		`)\b`)

	shellRedirectRe = regexp.MustCompile(`(?i)[<>]{1,2}|\|\s*tee\b`)
	sedInplaceRe    = regexp.MustCompile(`(?i)\bsed\b.*\s-i(\s|$)`)
)

// Cacheable reports whether a command's result may be cached.
func Cacheable(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}
	if sedInplaceRe.MatchString(cmd) {
		return false
	}
	if shellRedirectRe.MatchString(cmd) {
		return false
	}
	if writeCommandRe.MatchString(cmd) {
		return false
	}
	return true
}
