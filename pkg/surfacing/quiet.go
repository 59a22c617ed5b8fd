package surfacing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/steward-sh/steward/pkg/config"
)

// Mode is the surfacing posture derived from the quiet score.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeQuiet        Mode = "quiet"
	ModeCriticalOnly Mode = "critical_only"
)

const (
	criticalOnlyThreshold = 0.85
	quietThreshold        = 0.60
	criticalPriority      = 90
	frequencyHorizon      = 30 * time.Minute
	frequencySaturation   = 3
)

var defaultBusyKeywords = []string{
	"urgent", "incident", "outage", "oncall", "hotfix", "deadline", "production down",
}

// Calculator derives a quiet score in [0,1] from reputation, recent
// surfacing frequency, negative feedback, and context busyness, weighted per
// the governance profile. Higher means stay quieter.
type Calculator struct {
	cfg      config.QuietModeConfig
	window   Window
	feedback *FeedbackTracker
	logger   *slog.Logger
	clock    func() time.Time

	mu            sync.Mutex
	overrideMode  Mode
	overrideUntil time.Time
}

// NewCalculator creates a quiet-mode calculator.
func NewCalculator(cfg config.QuietModeConfig, window Window, feedback *FeedbackTracker) *Calculator {
	return &Calculator{
		cfg:      cfg,
		window:   window,
		feedback: feedback,
		logger:   slog.Default().With("component", "quiet"),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// SetOverride pins the mode for the given duration, ignoring the computed
// score until it expires. A non-positive duration clears the override.
func (c *Calculator) SetOverride(mode Mode, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		c.overrideMode = ""
		c.overrideUntil = time.Time{}
		return
	}
	c.overrideMode = mode
	c.overrideUntil = c.clock().Add(d)
	c.logger.Info("quiet mode override set", "mode", mode, "until", c.overrideUntil)
}

// Score computes the weighted quiet score. contextText is free-form text
// describing what the human is working on; busy keywords in it raise the
// busyness term to 1.
func (c *Calculator) Score(ctx context.Context, reputation float64, contextText string) float64 {
	frequency := 0.0
	if count, err := c.window.CountLast(ctx, frequencyHorizon); err == nil {
		frequency = min(1, float64(count)/frequencySaturation)
	} else {
		c.logger.Warn("frequency window unavailable, treating as idle", "error", err)
	}

	negative := c.feedback.NegativeRate(ctx)
	busyness := c.busyness(contextText)

	score := c.cfg.ReputationWeight*(1-reputation) +
		c.cfg.FrequencyWeight*frequency +
		c.cfg.FeedbackWeight*negative +
		c.cfg.BusynessWeight*busyness
	return min(1, max(0, score))
}

// Decide returns the current surfacing mode, honouring a live override.
func (c *Calculator) Decide(ctx context.Context, reputation float64, contextText string) Mode {
	c.mu.Lock()
	if c.overrideMode != "" && c.clock().Before(c.overrideUntil) {
		mode := c.overrideMode
		c.mu.Unlock()
		return mode
	}
	c.mu.Unlock()

	score := c.Score(ctx, reputation, contextText)
	switch {
	case score > criticalOnlyThreshold:
		return ModeCriticalOnly
	case score > quietThreshold:
		return ModeQuiet
	default:
		return ModeNormal
	}
}

// Allows reports whether an event of the given priority may surface under
// the mode. Quiet suppresses everything; critical-only lets through only
// high-priority events.
func Allows(mode Mode, priority int) bool {
	switch mode {
	case ModeCriticalOnly:
		return priority >= criticalPriority
	case ModeQuiet:
		return false
	default:
		return true
	}
}

func (c *Calculator) busyness(contextText string) float64 {
	if contextText == "" {
		return 0
	}
	keywords := c.cfg.BusyKeywords
	if len(keywords) == 0 {
		keywords = defaultBusyKeywords
	}
	lowered := strings.ToLower(contextText)
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return 1
		}
	}
	return 0
}
