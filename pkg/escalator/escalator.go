// Package escalator tries content-extraction tiers in increasing cost order
// until one yields acceptably valid text.
package escalator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keylin/harvester/pkg/protocol"
)

// minValidLength is the smallest stripped text length the validity heuristic
// accepts. Shorter results are interstitials or extraction misses.
const minValidLength = 200

// antiBotSignatures are lowercase fragments that mark a blocked or
// interstitial page rather than real content.
var antiBotSignatures = []string{
	"enable javascript",
	"javascript is required",
	"checking your browser",
	"verify you are human",
	"are you a robot",
	"captcha",
	"cloudflare",
	"access denied",
	"rate limited",
}

var ErrNoExtractors = errors.New("no extractors configured")

// Result is one escalation outcome: the text, the tier that produced it, and
// how many tiers were attempted.
type Result struct {
	Text     string
	Tier     protocol.Tier
	Attempts int
}

// Escalator walks its tier table in order and short-circuits on the first
// valid result. The last tier's output is accepted unconditionally.
type Escalator struct {
	extractors []protocol.Extractor
	logger     *slog.Logger
}

// NewEscalator orders the given extractors by tier. Tiers may be sparse (a
// deployment without a browser agent simply stops at headless).
func NewEscalator(logger *slog.Logger, extractors ...protocol.Extractor) *Escalator {
	ordered := make([]protocol.Extractor, len(extractors))
	copy(ordered, extractors)

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Tier() < ordered[i].Tier() {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	return &Escalator{
		extractors: ordered,
		logger:     logger.With("module", "escalator"),
	}
}

// Extract escalates through the tiers at or above minTier. For every tier but
// the last, the validity heuristic decides whether to stop; the last tier's
// result is final whatever the heuristic says, because there is nothing above
// it to escalate to.
func (e *Escalator) Extract(ctx context.Context, url string, minTier protocol.Tier) (*Result, error) {
	if len(e.extractors) == 0 {
		return nil, ErrNoExtractors
	}

	var lastErr error

	attempts := 0

	for index, extractor := range e.extractors {
		if extractor.Tier() < minTier {
			continue
		}

		attempts++
		last := index == len(e.extractors)-1

		text, err := extractor.Extract(ctx, url)
		if err != nil {
			lastErr = err
			e.logger.WarnContext(ctx, "Extraction tier failed",
				"tier", extractor.Tier().String(), "url", url, "error", err)

			if last {
				break
			}

			continue
		}

		if last || Valid(text) {
			return &Result{Text: text, Tier: extractor.Tier(), Attempts: attempts}, nil
		}

		e.logger.DebugContext(ctx, "Extraction below validity threshold, escalating",
			"tier", extractor.Tier().String(), "url", url, "length", len(text))
	}

	if attempts == 0 {
		return nil, fmt.Errorf("no extractor available for tier %s or above", minTier)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all extraction tiers failed: %w", lastErr)
	}

	return nil, errors.New("all extraction tiers failed")
}

// Valid is the validity heuristic: non-trivial length, some structure, and no
// known anti-bot or interstitial signature near the top of the text.
func Valid(text string) bool {
	stripped := strings.TrimSpace(text)
	if len(stripped) < minValidLength {
		return false
	}

	// Structural marker: real article text has sentence or paragraph
	// structure; a blob with neither is extraction noise.
	if !strings.ContainsAny(stripped, ".!?\n") {
		return false
	}

	head := strings.ToLower(stripped)
	if len(head) > 512 {
		head = head[:512]
	}

	for _, signature := range antiBotSignatures {
		if strings.Contains(head, signature) {
			return false
		}
	}

	return true
}
