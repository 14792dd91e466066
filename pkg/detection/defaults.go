package detection

import "github.com/cylestio/cylestio-monitor/pkg/config"

// sqlContext gates single-word SQL and shell verbs so that "dropdown" or
// "drop me a line" do not count as dangerous.
var sqlContext = []string{
	"table", "database", "schema", "column", "index", "view", "procedure",
	"trigger", "sql", "query", "db", "statement", "from", "where", ";", "--",
}

var commandContext = []string{
	"command", "run", "execute", "shell", "terminal", "bash", "cmd",
	"powershell", "script", "code",
}

func withContext(terms ...[]string) []string {
	var out []string
	for _, t := range terms {
		out = append(out, t...)
	}
	return out
}

// DefaultCategories returns the built-in keyword categories.
func DefaultCategories() map[string]config.CategoryConfig {
	return map[string]config.CategoryConfig{
		CategorySensitiveData: {
			Severity:    string(SeverityMedium),
			Description: "Credentials and personal data",
			Keywords: []string{
				"password", "api_key", "token", "secret", "ssn", "credit card",
			},
		},
		CategoryDangerousCommands: {
			Severity:    string(SeverityHigh),
			Description: "Destructive SQL and shell commands",
			Keywords: []string{
				"drop table", "drop database", "delete from", "truncate table",
				"rm -rf", "exec(", "system(", "eval(", "os.system", "subprocess.call",
				"drop", "delete", "truncate", "alter", "exec", "eval", "shutdown", "format",
			},
			RequireContext: map[string][]string{
				"drop":     withContext(sqlContext),
				"delete":   withContext(sqlContext),
				"truncate": withContext(sqlContext),
				"alter":    withContext(sqlContext),
				"exec":     withContext(sqlContext, commandContext),
				"eval":     withContext(commandContext),
				"shutdown": {"server", "system", "computer", "machine", "now"},
				"format":   {"disk", "drive", "hard", "partition", "c:"},
			},
		},
		CategoryPromptManipulation: {
			Severity:    string(SeverityMedium),
			Description: "Attempts to override instructions",
			Keywords: []string{
				"ignore previous", "ignore all previous", "disregard", "bypass",
				"jailbreak", "hack", "exploit", "developer mode",
			},
		},
	}
}

// DefaultPatterns returns the built-in regular expression rules.
func DefaultPatterns() map[string]config.PatternConfig {
	return map[string]config.PatternConfig{
		"email": {
			Regex:       `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityMedium),
			Description: "Email address",
			MaskMethod:  string(MaskFull),
			MaskTag:     "[EMAIL]",
		},
		"ssn": {
			Regex:       `\b\d{3}-\d{2}-\d{4}\b`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityHigh),
			Description: "US social security number",
			MaskMethod:  string(MaskFull),
			MaskTag:     "[SSN]",
		},
		"credit_card": {
			Regex:       `\b(?:\d{4}[ -]?){3}\d{4}\b`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityHigh),
			Description: "Payment card number",
			MaskMethod:  string(MaskFull),
			MaskTag:     "[CREDIT_CARD]",
		},
		"phone": {
			Regex:       `(?:\+?1[-.\s]?)?\(?\b\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityMedium),
			Description: "Phone number",
			MaskMethod:  string(MaskStructural),
		},
		"api_key": {
			Regex:       `\b(?:sk|pk|rk)-[A-Za-z0-9_-]{16,}`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityHigh),
			Description: "Provider API key",
			MaskMethod:  string(MaskPartial),
		},
		"bearer_token": {
			Regex:       `Bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityHigh),
			Description: "HTTP bearer token",
			MaskMethod:  string(MaskPartial),
		},
		"ipv4": {
			Regex:       `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,
			Category:    CategorySensitiveData,
			Severity:    string(SeverityLow),
			Description: "IPv4 address",
			MaskMethod:  string(MaskStructural),
		},
		"sql_injection": {
			Regex:       `(?i)(?:\bunion\s+(?:all\s+)?select\b|;\s*(?:drop|delete|update|insert|alter)\b|['"]\s*(?:or|and)\s*['"]?\d*['"]?\s*=\s*['"]?\d*|\bxp_cmdshell\b|\bwaitfor\s+delay\b)`,
			Category:    CategoryDangerousCommands,
			Severity:    string(SeverityHigh),
			Description: "SQL injection fragment",
		},
		"shell_download_exec": {
			Regex:       `(?i)\b(?:curl|wget)\b[^\n|]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`,
			Category:    CategoryDangerousCommands,
			Severity:    string(SeverityHigh),
			Description: "Download piped to a shell",
		},
		"reverse_shell": {
			Regex:       `(?i)\b(?:nc|ncat|netcat)\b[^\n]*\s-e\s|/dev/tcp/\d`,
			Category:    CategoryDangerousCommands,
			Severity:    string(SeverityHigh),
			Description: "Reverse shell invocation",
		},
		"mode_switch": {
			Regex:       `(?i)\b(?:enable|activate|switch\s+to)[_\s]+(?:shell|exec|system|admin)[_\s]+(?:access|mode)\b`,
			Category:    CategoryPromptManipulation,
			Severity:    string(SeverityMedium),
			Description: "Attempt to switch the assistant into a privileged mode",
		},
	}
}
