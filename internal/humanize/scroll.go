package humanize

import (
	"context"
	"math"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ScrollConfig bounds the smooth-scroll animation.
type ScrollConfig struct {
	// MinScrollSteps and MaxScrollSteps bound the number of increments a
	// scroll is broken into; more steps for longer distances.
	MinScrollSteps int
	MaxScrollSteps int
	// MinStepDelayMs and MaxStepDelayMs bound the pause between increments.
	MinStepDelayMs int
	MaxStepDelayMs int
	// PreScrollDelayMinMs/..Max and PostScrollDelayMinMs/..Max bound the
	// settle pauses before and after the whole movement.
	PreScrollDelayMinMs  int
	PreScrollDelayMaxMs  int
	PostScrollDelayMinMs int
	PostScrollDelayMaxMs int
}

// DefaultScrollConfig returns the pacing used for item page skims.
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		MinScrollSteps:       8,
		MaxScrollSteps:       20,
		MinStepDelayMs:       20,
		MaxStepDelayMs:       60,
		PreScrollDelayMinMs:  50,
		PreScrollDelayMaxMs:  200,
		PostScrollDelayMinMs: 100,
		PostScrollDelayMaxMs: 300,
	}
}

// Scroller drives eased, incremental scrolling on a page. The extraction
// flow uses it to skim down an item entry and return to the top before the
// DOM is read, mimicking how a person checks a listing.
type Scroller struct {
	page   *rod.Page
	config ScrollConfig
}

// NewScroller creates a scroller with default pacing.
func NewScroller(page *rod.Page) *Scroller {
	return &Scroller{page: page, config: DefaultScrollConfig()}
}

// NewScrollerWithConfig creates a scroller with custom pacing.
func NewScrollerWithConfig(page *rod.Page, config ScrollConfig) *Scroller {
	return &Scroller{page: page, config: config}
}

// ScrollBy scrolls the page by deltaY pixels with smooth animation, clamped
// to the document's scrollable range.
func (s *Scroller) ScrollBy(ctx context.Context, deltaY float64) error {
	layoutMetrics, err := proto.PageGetLayoutMetrics{}.Call(s.page)
	if err != nil {
		return err
	}

	currentScrollY := layoutMetrics.VisualViewport.PageY
	targetScrollY := currentScrollY + deltaY

	maxScrollY := layoutMetrics.ContentSize.Height - layoutMetrics.VisualViewport.ClientHeight
	if targetScrollY < 0 {
		targetScrollY = 0
	}
	if targetScrollY > maxScrollY {
		targetScrollY = maxScrollY
	}

	return s.smoothScrollTo(ctx, currentScrollY, targetScrollY)
}

// ScrollToTop smoothly returns to the top of the page.
func (s *Scroller) ScrollToTop(ctx context.Context) error {
	layoutMetrics, err := proto.PageGetLayoutMetrics{}.Call(s.page)
	if err != nil {
		return err
	}

	currentScrollY := layoutMetrics.VisualViewport.PageY
	if currentScrollY < 10 {
		return nil // already at top
	}

	return s.smoothScrollTo(ctx, currentScrollY, 0)
}

// ScrollToBottom smoothly scrolls to the end of the page.
func (s *Scroller) ScrollToBottom(ctx context.Context) error {
	layoutMetrics, err := proto.PageGetLayoutMetrics{}.Call(s.page)
	if err != nil {
		return err
	}

	currentScrollY := layoutMetrics.VisualViewport.PageY
	maxScrollY := layoutMetrics.ContentSize.Height - layoutMetrics.VisualViewport.ClientHeight

	if maxScrollY-currentScrollY < 10 {
		return nil // already at bottom
	}

	return s.smoothScrollTo(ctx, currentScrollY, maxScrollY)
}

// smoothScrollTo animates from fromY to toY in eased increments.
func (s *Scroller) smoothScrollTo(ctx context.Context, fromY, toY float64) error {
	preDelay := RandomDuration(s.config.PreScrollDelayMinMs, s.config.PreScrollDelayMaxMs)
	if !SleepWithContext(ctx, preDelay) {
		return ctx.Err()
	}

	distance := math.Abs(toY - fromY)
	if distance < 1 {
		return nil
	}

	// Step count scales with distance, capped so a long page does not take
	// forever to traverse.
	numSteps := s.config.MinScrollSteps + int(distance/100)
	if numSteps > s.config.MaxScrollSteps {
		numSteps = s.config.MaxScrollSteps
	}

	log.Debug().
		Float64("from_y", fromY).
		Float64("to_y", toY).
		Int("steps", numSteps).
		Msg("Starting smooth scroll")

	for i := 1; i <= numSteps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t := float64(i) / float64(numSteps)
		easedT := easeOutCubic(t)
		currentY := fromY + (toY-fromY)*easedT

		_, err := s.page.Eval(`window.scrollTo({top: arguments[0], behavior: 'instant'})`, currentY)
		if err != nil {
			// A missed step still lands near the target; keep going.
			log.Debug().Err(err).Msg("Scroll step failed")
		}

		stepDelay := RandomDuration(s.config.MinStepDelayMs, s.config.MaxStepDelayMs)
		if !SleepWithContext(ctx, stepDelay) {
			return ctx.Err()
		}
	}

	postDelay := RandomDuration(s.config.PostScrollDelayMinMs, s.config.PostScrollDelayMaxMs)
	if !SleepWithContext(ctx, postDelay) {
		return ctx.Err()
	}

	log.Debug().Float64("target_y", toY).Msg("Smooth scroll completed")
	return nil
}

// easeOutCubic decelerates toward the target the way momentum scrolling does.
func easeOutCubic(t float64) float64 {
	return 1 - math.Pow(1-t, 3)
}
