// Package safety classifies commands before they reach the network: a
// short blacklist of catastrophic actions is hard-denied, a broader set of
// mutating verbs gets an advisory warning.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

const ReasonBlacklistMatch = "blacklist_match"

// WarningHighRisk is attached to commands that mutate system state.
const WarningHighRisk = "high-risk command detected; confirm the intent before executing"

// WarningScriptHighRisk is the script-level variant.
const WarningScriptHighRisk = "script contains potentially high-risk commands; confirm the intent before executing"

var blacklistRe = regexp.MustCompile(`(?i)(` +
	`\brm\s+-rf\s+/` + // recursive removal from root
	`|\bmkfs\b` + // filesystem format
	`|\bdd\b\s+if=` + // raw disk writes
	`|:\(\)\s*\{\s*:\s*\|\s*:\s*;\s*\}\s*;` + // fork bomb
	`|\bshutdown\b` +
	`|\breboot\b` +
	`)`)

var dangerousRe = regexp.MustCompile(`(?i)\b(` +
	`rm|rmdir|mv|cp|dd|truncate|chmod|chown|chgrp|` +
	`sed|perl|python|tee|` +
	`apt|apt-get|yum|dnf|pacman|systemctl|service|` +
	`useradd|userdel|usermod|groupadd|groupdel|groupmod|` +
	`iptables|ufw|firewall-cmd` +
	`)\b`)

// BlockedError reports a command denied by the blacklist. It never reaches
// the network layer.
type BlockedError struct {
	Command string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command blocked (%s): %s", e.Reason, e.Command)
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Allowed  bool
	Warnings []string
}

// Classifier checks commands against the blacklist, the warn list and the
// configured whitelist overrides.
type Classifier struct {
	whitelist []*regexp.Regexp
}

// NewClassifier compiles the whitelist patterns. A pattern that fails to
// compile is an error: a silently dropped whitelist entry would surprise
// the operator who configured it.
func NewClassifier(whitelistPatterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, pattern := range whitelistPatterns {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid safety whitelist pattern %q: %w", pattern, err)
		}
		c.whitelist = append(c.whitelist, re)
	}
	return c, nil
}

// CheckCommand validates one command. A blacklist hit returns a
// *BlockedError; a dangerous-verb hit returns warnings but allows.
func (c *Classifier) CheckCommand(command string) (*Verdict, error) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return &Verdict{Allowed: true}, nil
	}

	if c.isWhitelisted(cmd) {
		return &Verdict{Allowed: true}, nil
	}

	if blacklistRe.MatchString(cmd) {
		return nil, &BlockedError{Command: cmd, Reason: ReasonBlacklistMatch}
	}

	verdict := &Verdict{Allowed: true}
	if dangerousRe.MatchString(cmd) {
		verdict.Warnings = append(verdict.Warnings, WarningHighRisk)
	}
	return verdict, nil
}

// CheckScript is warn-only: a script may guard dangerous commands behind
// conditionals that a regex cannot evaluate, so it never hard-blocks.
func (c *Classifier) CheckScript(script string) *Verdict {
	if strings.TrimSpace(script) == "" {
		return &Verdict{Allowed: true}
	}

	verdict := &Verdict{Allowed: true}
	if dangerousRe.MatchString(script) {
		verdict.Warnings = append(verdict.Warnings, WarningScriptHighRisk)
	}
	return verdict
}

func (c *Classifier) isWhitelisted(command string) bool {
	for _, re := range c.whitelist {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
