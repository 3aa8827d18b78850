// Package safety classifies shell command strings for the approval flow.
// Classification is lexical over the literal command string; no shell
// parsing beyond whitespace splitting of the first token is assumed. The
// classifier is deterministic and side-effect free.
package safety

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Mode is the classification outcome.
type Mode string

const (
	// ModeAuto runs without asking: the command's observable effects are a
	// subset of read-only inspection.
	ModeAuto Mode = "auto"
	// ModePrompt requires an explicit client approval.
	ModePrompt Mode = "prompt"
	// ModeDeny is unconditionally prohibited.
	ModeDeny Mode = "deny"
)

// Risk codes attached to prompt decisions.
const (
	RiskManualReview        = "requires_manual_review"
	RiskFilesystemMutation  = "filesystem_mutation"
	RiskNetworkAccess       = "network_access"
	RiskPrivilegeEscalation = "privilege_escalation"
)

// Decision is the result of classifying one command.
type Decision struct {
	Mode      Mode
	Risk      string
	Dangerous bool
}

// shellMetachars matches characters that chain or redirect commands. A
// command containing any of them never qualifies for auto.
var shellMetachars = regexp.MustCompile("[|&;<>`$(){}\\[\\]\n\r]")

// autoCommands are full literal commands that are always read-only.
var autoCommands = map[string]bool{
	"git status": true,
	"git diff":   true,
	"git log":    true,
	"git branch": true,
}

// autoFirstTokens are executables whose bare invocations (with simple
// arguments, no metacharacters) are read-only.
var autoFirstTokens = map[string]bool{
	"pwd":      true,
	"ls":       true,
	"whoami":   true,
	"date":     true,
	"hostname": true,
	"id":       true,
	"uname":    true,
	"env":      true,
	"printenv": true,
}

var privilegeTokens = map[string]bool{
	"sudo": true,
	"su":   true,
	"doas": true,
}

var mutationTokens = map[string]bool{
	"rm":     true,
	"rmdir":  true,
	"mv":     true,
	"cp":     true,
	"dd":     true,
	"chmod":  true,
	"chown":  true,
	"ln":     true,
	"mkfs":   true,
	"truncate": true,
}

var networkTokens = map[string]bool{
	"curl": true,
	"wget": true,
	"ssh":  true,
	"scp":  true,
	"rsync": true,
	"nc":   true,
	"ncat": true,
	"ftp":  true,
}

// dangerousPatterns upgrade UI emphasis on a prompt decision.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),
	regexp.MustCompile(`\bdd\s+.*of=`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{`),
}

// Classifier evaluates commands against a configured deny list.
type Classifier struct {
	denyExact map[string]bool
	denyToken map[string]bool
}

// NewClassifier builds a classifier. Each deny entry matches either the
// full literal command or its first token.
func NewClassifier(denyCommands []string) *Classifier {
	c := &Classifier{
		denyExact: map[string]bool{},
		denyToken: map[string]bool{},
	}
	for _, d := range denyCommands {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		c.denyExact[d] = true
		if !strings.ContainsAny(d, " \t") {
			c.denyToken[d] = true
		}
	}
	return c
}

// Classify maps a command string to auto, prompt(risk) or deny.
func (c *Classifier) Classify(command string) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Decision{Mode: ModePrompt, Risk: RiskManualReview}
	}

	first := firstToken(trimmed)

	if c.denyExact[trimmed] || c.denyToken[first] {
		return Decision{Mode: ModeDeny}
	}

	if privilegeTokens[first] {
		return Decision{Mode: ModePrompt, Risk: RiskPrivilegeEscalation, Dangerous: true}
	}

	// Auto requires a clean single command: an allow-listed executable and
	// no metacharacters that could chain or redirect.
	if !shellMetachars.MatchString(trimmed) {
		if autoCommands[trimmed] || autoFirstTokens[first] {
			return Decision{Mode: ModeAuto}
		}
	}

	risk := RiskManualReview
	dangerous := false
	switch {
	case mutationTokens[first]:
		risk = RiskFilesystemMutation
	case networkTokens[first]:
		risk = RiskNetworkAccess
	}
	for _, pat := range dangerousPatterns {
		if pat.MatchString(trimmed) {
			dangerous = true
			break
		}
	}
	return Decision{Mode: ModePrompt, Risk: risk, Dangerous: dangerous}
}

// firstToken returns the basename of the first whitespace-separated token,
// so "/bin/rm" and "rm" classify alike.
func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}
