// Package analysis simulates the classification step run by the worker.
// Notifications are categorised by keyword and given a confidence score
// drawn from a fixed range per category.
package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-service/internal/model"
)

// Range is a half-open confidence interval [Low, High).
type Range struct {
	Low  float64
	High float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Low && v < r.High
}

// The ranges are disjoint and together stay inside [0, 1].
var confidenceRanges = map[model.Category]Range{
	model.CategoryWarning:  {Low: 0.60, High: 0.75},
	model.CategoryCritical: {Low: 0.75, High: 0.90},
	model.CategoryInfo:     {Low: 0.90, High: 0.99},
}

var (
	criticalTerms = []string{"error", "exception", "failed"}
	warningTerms  = []string{"warning", "attention", "careful"}
)

const maxKeywords = 3

// ConfidenceRange returns the range confidence is drawn from for c.
func ConfidenceRange(c model.Category) Range {
	return confidenceRanges[c]
}

// Classify picks a category by keyword. Failure terms win over caution terms.
func Classify(text string) model.Category {
	lower := strings.ToLower(text)
	if containsAny(lower, criticalTerms) {
		return model.CategoryCritical
	}
	if containsAny(lower, warningTerms) {
		return model.CategoryWarning
	}
	return model.CategoryInfo
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

type Result struct {
	Category   model.Category
	Confidence float64
	Keywords   []string
}

type Config struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	RatePerSecond float64
	Burst         int
}

type Option func(*Analyzer)

// WithRand replaces the random source. Used by tests for determinism.
func WithRand(r *rand.Rand) Option {
	return func(a *Analyzer) { a.rng = r }
}

// WithSleep replaces the delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Analyzer) { a.sleep = fn }
}

type Analyzer struct {
	cfg     Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

func NewAnalyzer(cfg Config, opts ...Option) *Analyzer {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}

	a := &Analyzer{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		sleep:   sleepContext,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze waits for a token, sleeps a random delay and classifies text.
// It only fails when ctx is cancelled.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analysis throttled: %w", err)
	}

	if err := a.sleep(ctx, a.delay()); err != nil {
		return nil, fmt.Errorf("analysis interrupted: %w", err)
	}

	category := Classify(text)
	r := confidenceRanges[category]

	a.mu.Lock()
	confidence := r.Low + a.rng.Float64()*(r.High-r.Low)
	keywords := a.keywords(text)
	a.mu.Unlock()

	return &Result{
		Category:   category,
		Confidence: confidence,
		Keywords:   keywords,
	}, nil
}

func (a *Analyzer) delay() time.Duration {
	span := a.cfg.MaxDelay - a.cfg.MinDelay
	if span <= 0 {
		return a.cfg.MinDelay
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.MinDelay + time.Duration(a.rng.Int63n(int64(span)+1))
}

// keywords samples up to maxKeywords distinct words of text. Caller holds a.mu.
func (a *Analyzer) keywords(text string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}

	n := maxKeywords
	if len(words) < n {
		n = len(words)
	}
	out := make([]string, 0, n)
	for _, i := range a.rng.Perm(len(words))[:n] {
		out = append(out, words[i])
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
