package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/agentic/internal/observability"
	"github.com/harun/agentic/internal/tracing"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const defaultCooldownStep = 60 * time.Second

// Factory creates providers from profiles
type Factory interface {
	NewProvider(profile Profile) (Provider, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(profile Profile) (Provider, error)

// NewProvider calls f
func (f FactoryFunc) NewProvider(profile Profile) (Provider, error) {
	return f(profile)
}

// ProviderFactory creates the SDK backed providers
type ProviderFactory struct{}

// NewProvider creates a new provider based on the profile
func (ProviderFactory) NewProvider(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile), nil
	case "openai":
		return NewOpenAIProvider(profile), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// FailoverConfig configures a Failover provider
type FailoverConfig struct {
	Profiles []Profile
	Factory  Factory
	Logger   zerolog.Logger
	// CooldownStep is multiplied by the profile's consecutive failures
	CooldownStep time.Duration
	Now          func() time.Time
}

type profileState struct {
	profile       Profile
	failureCount  int
	cooldownUntil time.Time
}

// Failover tries profiles in priority order, skipping profiles that are
// cooling down after failures
type Failover struct {
	profiles     []*profileState
	factory      Factory
	cooldownStep time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	mu           sync.Mutex
}

// NewFailover creates a failover provider. Lower priority values are tried
// first.
func NewFailover(cfg FailoverConfig) *Failover {
	observability.EnsureRegistered()

	factory := cfg.Factory
	if factory == nil {
		factory = ProviderFactory{}
	}
	step := cfg.CooldownStep
	if step <= 0 {
		step = defaultCooldownStep
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	states := make([]*profileState, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		states = append(states, &profileState{profile: p})
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].profile.Priority < states[j].profile.Priority
	})

	return &Failover{
		profiles:     states,
		factory:      factory,
		cooldownStep: step,
		now:          now,
		logger:       cfg.Logger,
	}
}

// Name returns the provider name
func (f *Failover) Name() string {
	return "failover"
}

// StreamCompletion opens a stream on the first healthy profile. The first
// chunk is read before returning so connection failures can fall through
// to the next profile.
func (f *Failover) StreamCompletion(ctx context.Context, req Request) (Stream, error) {
	ctx, span := tracing.StartSpan(ctx, "agentic.inference", "inference.failover",
		attribute.Int("profiles", len(f.profiles)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, f.logger)
	var lastErr error

	for _, state := range f.snapshot() {
		profile := state.profile
		if f.now().Before(state.cooldownUntil) {
			observability.SetProviderCooldown(profile.ID, true)
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		logger.Debug().Str("profileId", profile.ID).Msg("Trying inference profile")
		provider, err := f.factory.NewProvider(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		r := req
		if r.Model == "" {
			r.Model = profile.Model
		}
		stream, err := f.open(ctx, provider, r)
		if err == nil {
			f.markSuccess(profile.ID)
			return stream, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			tracing.FailSpan(span, ctx.Err(), "inference cancelled")
			return nil, ctx.Err()
		}
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Inference profile failed")
		f.markFailure(profile.ID)

		if !IsRetryableError(err) {
			tracing.FailSpan(span, err, "inference failed")
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = ErrNoProvider
	} else {
		lastErr = fmt.Errorf("%w: %w", ErrNoProvider, lastErr)
	}
	logger.Error().Err(lastErr).Msg("All inference profiles failed")
	tracing.FailSpan(span, lastErr, "all profiles failed")
	return nil, lastErr
}

func (f *Failover) open(ctx context.Context, provider Provider, req Request) (Stream, error) {
	stream, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	first, err := stream.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		_ = stream.Close()
		return nil, err
	}
	return &primedStream{first: first, firstErr: err, Stream: stream}, nil
}

func (f *Failover) snapshot() []profileState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]profileState, len(f.profiles))
	for i, s := range f.profiles {
		out[i] = *s
	}
	return out
}

func (f *Failover) markSuccess(profileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.profiles {
		if s.profile.ID == profileID {
			s.failureCount = 0
			s.cooldownUntil = time.Time{}
			break
		}
	}
	observability.SetProviderCooldown(profileID, false)
}

func (f *Failover) markFailure(profileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.profiles {
		if s.profile.ID == profileID {
			s.failureCount++
			s.cooldownUntil = f.now().Add(f.cooldownStep * time.Duration(s.failureCount))
			break
		}
	}
	observability.SetProviderCooldown(profileID, true)
}

// primedStream replays the chunk read while probing the profile
type primedStream struct {
	Stream
	first    Chunk
	firstErr error
	consumed bool
}

func (s *primedStream) Next(ctx context.Context) (Chunk, error) {
	if !s.consumed {
		s.consumed = true
		return s.first, s.firstErr
	}
	return s.Stream.Next(ctx)
}

// IsRetryableError reports whether another profile might succeed where
// this one failed
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return retryableStatus(anErr.StatusCode)
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection refused", "rate limit", "429", "500", "502", "503", "504"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 401 || code == 403 || code == 408 || code == 429 || code >= 500
}
