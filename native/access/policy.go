package access

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"anima/core/types"
	"anima/native/stake"
)

// Resolution identifies a supported output resolution.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution4K    Resolution = "4K"
	Resolution8K    Resolution = "8K"
)

var resolutionOrder = []Resolution{Resolution720p, Resolution1080p, Resolution4K, Resolution8K}

// Rank returns the resolution's position in the ladder, -1 for unknown.
func (r Resolution) Rank() int {
	for i, candidate := range resolutionOrder {
		if candidate == r {
			return i
		}
	}
	return -1
}

// Valid reports whether the resolution is a supported step.
func (r Resolution) Valid() bool { return r.Rank() >= 0 }

// costMultiplier is the fixed per-resolution cost step.
func (r Resolution) costMultiplier() decimal.Decimal {
	switch r {
	case Resolution720p:
		return decimal.NewFromInt(1)
	case Resolution4K:
		return decimal.NewFromInt(5)
	case Resolution8K:
		return decimal.NewFromInt(10)
	default:
		return decimal.NewFromInt(2)
	}
}

// Request carries the production parameters a caller submits for scheduling.
// The agent count is estimated from the optional feature flags.
type Request struct {
	Title            string     `json:"title,omitempty"`
	Resolution       Resolution `json:"resolution"`
	FPS              int        `json:"fps"`
	DurationMinutes  float64    `json:"durationMinutes"`
	Style            string     `json:"style"`
	CharacterCount   int        `json:"characterCount,omitempty"`
	StylePreferences bool       `json:"stylePreferences,omitempty"`
	VoiceGeneration  bool       `json:"voiceGeneration,omitempty"`
	SpecialEffects   bool       `json:"specialEffects,omitempty"`
	SceneCount       int        `json:"sceneCount,omitempty"`
}

// EstimateAgents derives the agent count a production needs: the four core
// agents plus one per optional feature.
func EstimateAgents(req Request) int {
	agents := 4
	if req.CharacterCount > 0 {
		agents++
	}
	if req.StylePreferences {
		agents++
	}
	if req.VoiceGeneration {
		agents++
	}
	if req.SpecialEffects {
		agents++
	}
	if req.SceneCount > 0 {
		agents++
	}
	return agents
}

// UpgradeRecommendation names the minimal tier whose ceilings would admit the
// request and the extra stake required to reach it.
type UpgradeRecommendation struct {
	Tier            stake.Tier     `json:"tier"`
	RequiredStake   *big.Int       `json:"requiredStake"`
	AdditionalStake *big.Int       `json:"additionalStake"`
	Features        stake.Features `json:"features"`
}

// ValidationResult reports every ceiling check for a request. All dimensions
// are evaluated even after the first failure so the caller sees the full
// violation list at once.
type ValidationResult struct {
	Account        string                 `json:"account"`
	Tier           stake.Tier             `json:"tier"`
	Valid          bool                   `json:"valid"`
	Violations     []string               `json:"violations,omitempty"`
	Recommendation *UpgradeRecommendation `json:"recommendation,omitempty"`
}

// ValidationError wraps a failed validation so submission paths can surface
// the structured result through the error chain.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("access: request exceeds %s tier limits (%d violations)",
		e.Result.Tier, len(e.Result.Violations))
}

// stakeReader is the slice of the stake registry the policy consumes.
type stakeReader interface {
	StakedAmount(account string) *big.Int
}

// Policy validates production requests against the submitter's tier ceilings.
// It only ever reads the stake registry.
type Policy struct {
	stakes stakeReader
}

// NewPolicy builds an access policy over the stake registry.
func NewPolicy(stakes stakeReader) *Policy {
	return &Policy{stakes: stakes}
}

func checkFeatures(features stake.Features, req Request) []string {
	var violations []string

	if !req.Resolution.Valid() {
		violations = append(violations, fmt.Sprintf("unknown resolution %q", req.Resolution))
	} else if req.Resolution.Rank() > Resolution(features.MaxResolution).Rank() {
		violations = append(violations, fmt.Sprintf("resolution %s exceeds tier maximum %s", req.Resolution, features.MaxResolution))
	}

	if req.FPS > features.MaxFPS {
		violations = append(violations, fmt.Sprintf("frame rate %d exceeds tier maximum %d", req.FPS, features.MaxFPS))
	}

	durationSecs := int(req.DurationMinutes * 60)
	if features.MaxSequenceSecs != stake.Unlimited && durationSecs > features.MaxSequenceSecs {
		violations = append(violations, fmt.Sprintf("duration %ds exceeds tier maximum %ds", durationSecs, features.MaxSequenceSecs))
	}

	if !stylePermitted(features.StylePacks, req.Style) {
		violations = append(violations, fmt.Sprintf("style pack %q not available in tier", req.Style))
	}

	agents := EstimateAgents(req)
	if features.MaxAgents != stake.Unlimited && agents > features.MaxAgents {
		violations = append(violations, fmt.Sprintf("requires %d agents, tier allows %d", agents, features.MaxAgents))
	}

	return violations
}

func stylePermitted(packs []string, style string) bool {
	style = strings.ToLower(strings.TrimSpace(style))
	if style == "" {
		style = "basic"
	}
	for _, pack := range packs {
		if pack == "all" || pack == style {
			return true
		}
	}
	return false
}

// Validate checks every request dimension against the account's tier
// ceilings. When invalid, the result carries the minimal tier upgrade that
// would admit the request.
func (p *Policy) Validate(account string, req Request) ValidationResult {
	staked := p.stakes.StakedAmount(account)
	tier := stake.TierForAmount(staked)

	result := ValidationResult{
		Account: account,
		Tier:    tier,
		Valid:   true,
	}
	result.Violations = checkFeatures(stake.FeaturesFor(tier), req)
	if len(result.Violations) == 0 {
		return result
	}
	result.Valid = false

	// Walk the tiers above the current one and recommend the first whose
	// ceilings clear every violation.
	for candidate := tier; ; {
		next, ok := candidate.Next()
		if !ok {
			break
		}
		candidate = next
		if len(checkFeatures(stake.FeaturesFor(candidate), req)) > 0 {
			continue
		}
		additional := new(big.Int).Sub(candidate.Threshold(), staked)
		if additional.Sign() < 0 {
			additional = big.NewInt(0)
		}
		result.Recommendation = &UpgradeRecommendation{
			Tier:            candidate,
			RequiredStake:   candidate.Threshold(),
			AdditionalStake: additional,
			Features:        stake.FeaturesFor(candidate),
		}
		break
	}
	return result
}

// baseCost is the flat production cost before multipliers, in whole ANM.
var baseCost = decimal.NewFromInt(10)

// EstimateCost prices a request deterministically:
// base * resolution step * (fps/30) * (minutes/5) * (agents/5).
// Side-effect free; charging happens at the ledger.
func EstimateCost(req Request) *big.Int {
	fps := decimal.NewFromInt(int64(req.FPS)).Div(decimal.NewFromInt(30))
	duration := decimal.NewFromFloat(req.DurationMinutes).Div(decimal.NewFromInt(5))
	agents := decimal.NewFromInt(int64(EstimateAgents(req))).Div(decimal.NewFromInt(5))
	cost := baseCost.
		Mul(req.Resolution.costMultiplier()).
		Mul(fps).
		Mul(duration).
		Mul(agents)
	return types.FromDecimal(cost)
}
