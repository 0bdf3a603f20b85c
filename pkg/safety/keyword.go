package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/agentic/pkg/message"
)

// DefaultRedirectMessage is returned to the user when no shield-specific text is set
const DefaultRedirectMessage = "I can't answer that. Can I help with something else?"

// KeywordConfig configures a KeywordChecker
type KeywordConfig struct {
	Keywords        []string
	Patterns        []string
	ViolationType   string
	RedirectMessage string
}

// KeywordChecker flags content containing blocked keywords or patterns.
type KeywordChecker struct {
	keywords      []string
	patterns      []*regexp.Regexp
	violationType string
	redirect      string
}

// NewKeywordChecker creates a keyword and pattern based checker.
func NewKeywordChecker(cfg KeywordConfig) (*KeywordChecker, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	violationType := cfg.ViolationType
	if violationType == "" {
		violationType = "blocked_content"
	}
	redirect := cfg.RedirectMessage
	if redirect == "" {
		redirect = DefaultRedirectMessage
	}

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, strings.ToLower(kw))
		}
	}

	return &KeywordChecker{
		keywords:      keywords,
		patterns:      patterns,
		violationType: violationType,
		redirect:      redirect,
	}, nil
}

// Check implements Checker. Every message in the dialog is inspected.
func (c *KeywordChecker) Check(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	for _, m := range msgs {
		if reason, hit := c.match(m.Text()); hit {
			return Verdict{
				ShieldType:             shield.ShieldType,
				IsViolation:            true,
				ViolationType:          c.violationType,
				ViolationReturnMessage: c.redirect,
				Metadata:               map[string]string{"reason": reason, "role": string(m.Role())},
			}, nil
		}
	}
	return Pass(shield.ShieldType), nil
}

func (c *KeywordChecker) match(text string) (string, bool) {
	normalized := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(normalized, kw) {
			return "keyword:" + kw, true
		}
	}
	for i, re := range c.patterns {
		if re.MatchString(text) {
			return fmt.Sprintf("pattern#%d", i+1), true
		}
	}
	return "", false
}
