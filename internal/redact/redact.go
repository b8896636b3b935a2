// Package redact implements the credential-scrubbing rules applied
// before any content is persisted or logged.
package redact

import "regexp"

// credentialKeys is the vocabulary of keys treated as secret-bearing.
var credentialKeys = []string{
	"password", "passwd", "pwd", "secret", "api_key", "apikey", "token",
	"access_token", "refresh_token", "openai_api_key", "aws_secret",
	"database_url",
}

var (
	assignPatterns []*regexp.Regexp
	bearerPattern  = regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)[A-Za-z0-9._\-]+`)
	pemPattern     = regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`)
)

func init() {
	for _, key := range credentialKeys {
		// quoted: key = "value" / key: 'value' / key => "value"
		assignPatterns = append(assignPatterns, regexp.MustCompile(
			`(?i)(\b`+key+`\b\s*[:=]>?\s*)"([^"]*)"`))
		assignPatterns = append(assignPatterns, regexp.MustCompile(
			`(?i)(\b`+key+`\b\s*[:=]>?\s*)'([^']*)'`))
		// bare: key=value (env-file style, no quotes, stops at whitespace)
		assignPatterns = append(assignPatterns, regexp.MustCompile(
			`(?i)(\b`+key+`\b\s*=\s*)([^\s"']+)`))
	}
}

const replacement = "REDACTED"

// Scrub replaces every credential-bearing substring in text with a marker
// that preserves the key name but removes the secret value. It reports
// whether any replacement was made.
func Scrub(text string) (string, bool) {
	found := false

	for _, re := range assignPatterns {
		if re.MatchString(text) {
			found = true
			text = re.ReplaceAllString(text, "${1}"+replacement)
		}
	}
	if bearerPattern.MatchString(text) {
		found = true
		text = bearerPattern.ReplaceAllString(text, "${1}"+replacement)
	}
	if pemPattern.MatchString(text) {
		found = true
		text = pemPattern.ReplaceAllString(text, replacement)
	}

	return text, found
}
