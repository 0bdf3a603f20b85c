package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// redactionRule replaces the secret part of a match. Rules with a key group
// keep the key and mask only the value.
type redactionRule struct {
	re      *regexp.Regexp
	keepKey bool
}

// Redactor masks provider keys and gateway secrets before log lines leave
// the process
type Redactor struct {
	rules []redactionRule
}

// NewRedactor creates a redactor with rules for the credentials the engine
// handles
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			// Anthropic and OpenAI keys
			{re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{8,}`)},
			{re: regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{16,}`)},
			{re: regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/-]+=*`)},

			// JSON fields and headers: "api_key":"...", X-Agentic-Secret: ...
			{re: regexp.MustCompile(`(?i)("?(?:api_key|apikey|shared_secret|secret|password|token)"?\s*[:=]\s*"?)[^\s",}]+`), keepKey: true},
			{re: regexp.MustCompile(`(?i)((?:x-api-key|x-agentic-secret)\s*[:=]\s*)[^\s",}]+`), keepKey: true},
		},
	}
}

// AddPattern masks every match of pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{re: re})
	return nil
}

// Redact masks secrets in s
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		if rule.keepKey {
			s = rule.re.ReplaceAllString(s, "${1}"+redacted)
		} else {
			s = rule.re.ReplaceAllString(s, redacted)
		}
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success; the redacted line may differ in length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
