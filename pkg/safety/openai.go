package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/harun/agentic/pkg/message"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIModerationChecker classifies dialog text with the OpenAI moderation endpoint
type OpenAIModerationChecker struct {
	client   openai.Client
	model    openai.ModerationModel
	redirect string
}

// NewOpenAIModerationChecker creates a moderation-backed checker
func NewOpenAIModerationChecker(apiKey, redirect string, opts ...option.RequestOption) *OpenAIModerationChecker {
	if redirect == "" {
		redirect = DefaultRedirectMessage
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIModerationChecker{
		client:   openai.NewClient(opts...),
		model:    openai.ModerationModelOmniModerationLatest,
		redirect: redirect,
	}
}

// Check implements Checker
func (c *OpenAIModerationChecker) Check(ctx context.Context, msgs []message.Message, shield ShieldDefinition) (Verdict, error) {
	inputs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text() != "" {
			inputs = append(inputs, m.Text())
		}
	}
	if len(inputs) == 0 {
		return Pass(shield.ShieldType), nil
	}

	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfStringArray: inputs},
		Model: c.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation request failed: %w", err)
	}

	for _, result := range resp.Results {
		if !result.Flagged {
			continue
		}
		categories := flaggedCategories(result.Categories.RawJSON())
		violationType := "flagged"
		if len(categories) > 0 {
			violationType = categories[0]
		}
		meta := map[string]string{}
		for i, cat := range categories {
			meta[fmt.Sprintf("category_%d", i)] = cat
		}
		return Verdict{
			ShieldType:             shield.ShieldType,
			IsViolation:            true,
			ViolationType:          violationType,
			ViolationReturnMessage: c.redirect,
			Metadata:               meta,
		}, nil
	}

	return Pass(shield.ShieldType), nil
}

func flaggedCategories(raw string) []string {
	if raw == "" {
		return nil
	}
	var all map[string]bool
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		return nil
	}
	var out []string
	for name, flagged := range all {
		if flagged {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
