package protocol

import (
	"context"
	"fmt"
)

// Tier identifies one content-extraction method, ordered by cost.
type Tier int

const (
	// TierAuto lets the escalator start at the cheapest tier.
	TierAuto Tier = iota
	// TierDirect is a plain HTTP fetch plus structural text extraction.
	TierDirect
	// TierHeadless renders the page in a headless browser before extraction.
	TierHeadless
	// TierAgent drives an autonomous browser agent. Its output is final.
	TierAgent
)

func (t Tier) String() string {
	switch t {
	case TierAuto:
		return "auto"
	case TierDirect:
		return "direct"
	case TierHeadless:
		return "headless"
	case TierAgent:
		return "agent"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a config string to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "", "auto":
		return TierAuto, nil
	case "direct":
		return TierDirect, nil
	case "headless":
		return TierHeadless, nil
	case "agent":
		return TierAgent, nil
	default:
		return TierAuto, fmt.Errorf("unknown extraction tier %q", s)
	}
}

// Extractor is one tier's external collaborator. Extract returns the best
// text it can produce for the URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
	Tier() Tier
}
