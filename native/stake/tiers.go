package stake

import (
	"encoding/json"
	"fmt"
	"math/big"

	"anima/core/types"
)

// Tier is a discrete staking bracket derived purely from the staked amount.
// It gates resource ceilings, APY, and the job-priority multiplier.
type Tier uint8

const (
	TierBasic Tier = iota
	TierAdvanced
	TierPro
	TierStudio
)

// Unlimited marks a resource ceiling with no cap.
const Unlimited = -1

// tierOrder lists tiers from lowest to highest threshold.
var tierOrder = []Tier{TierBasic, TierAdvanced, TierPro, TierStudio}

// String implements fmt.Stringer for logging and API payloads.
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierAdvanced:
		return "advanced"
	case TierPro:
		return "pro"
	case TierStudio:
		return "studio"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the tier by name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "basic":
		*t = TierBasic
	case "advanced":
		*t = TierAdvanced
	case "pro":
		*t = TierPro
	case "studio":
		*t = TierStudio
	default:
		return fmt.Errorf("stake: unknown tier %q", name)
	}
	return nil
}

// Threshold returns the minimum staked amount, in base units, for the tier.
func (t Tier) Threshold() *big.Int {
	switch t {
	case TierAdvanced:
		return types.Tokens(100)
	case TierPro:
		return types.Tokens(1_000)
	case TierStudio:
		return types.Tokens(10_000)
	default:
		return big.NewInt(0)
	}
}

// APYBps returns the annual reward rate for the tier in basis points.
func (t Tier) APYBps() uint64 {
	switch t {
	case TierAdvanced:
		return 1_000 // 10%
	case TierPro:
		return 1_500 // 15%
	case TierStudio:
		return 2_500 // 25%
	default:
		return 500 // 5%
	}
}

// PriorityMultiplier returns the scheduling weight applied to the tier.
func (t Tier) PriorityMultiplier() float64 {
	switch t {
	case TierAdvanced:
		return 2
	case TierPro:
		return 5
	case TierStudio:
		return 10
	default:
		return 1
	}
}

// Next returns the tier above t and true, or t and false at the top.
func (t Tier) Next() (Tier, bool) {
	if t >= TierStudio {
		return t, false
	}
	return t + 1, true
}

// TierForAmount derives the tier for a staked amount: the highest tier whose
// threshold the amount meets. Monotonic in the amount by construction.
func TierForAmount(amount *big.Int) Tier {
	if amount == nil {
		return TierBasic
	}
	tier := TierBasic
	for _, candidate := range tierOrder {
		if amount.Cmp(candidate.Threshold()) >= 0 {
			tier = candidate
		}
	}
	return tier
}

// Features is the immutable capability table for a tier. A value of
// Unlimited (-1) means no cap.
type Features struct {
	MaxAgents         int      `json:"maxAgents"`
	MaxSequenceSecs   int      `json:"maxSequenceSeconds"`
	MaxResolution     string   `json:"maxResolution"`
	MaxFPS            int      `json:"maxFps"`
	StylePacks        []string `json:"stylePacks"`
	PriorityRendering bool     `json:"priorityRendering"`
	CustomAgents      bool     `json:"customAgents"`
}

// FeaturesFor returns a copy of the capability table for the tier.
func FeaturesFor(t Tier) Features {
	switch t {
	case TierAdvanced:
		return Features{
			MaxAgents:         5,
			MaxSequenceSecs:   120,
			MaxResolution:     "1080p",
			MaxFPS:            30,
			StylePacks:        []string{"basic", "cinematic", "anime"},
			PriorityRendering: true,
		}
	case TierPro:
		return Features{
			MaxAgents:         10,
			MaxSequenceSecs:   600,
			MaxResolution:     "4K",
			MaxFPS:            60,
			StylePacks:        []string{"all"},
			PriorityRendering: true,
		}
	case TierStudio:
		return Features{
			MaxAgents:         Unlimited,
			MaxSequenceSecs:   Unlimited,
			MaxResolution:     "8K",
			MaxFPS:            120,
			StylePacks:        []string{"all", "custom"},
			PriorityRendering: true,
			CustomAgents:      true,
		}
	default:
		return Features{
			MaxAgents:       2,
			MaxSequenceSecs: 30,
			MaxResolution:   "720p",
			MaxFPS:          24,
			StylePacks:      []string{"basic"},
		}
	}
}
