package governance

import (
	"encoding/json"
	"math/big"
	"time"
)

// ProposalType enumerates the supported governance proposal kinds.
type ProposalType string

const (
	ProposalTypeNewAgent     ProposalType = "new_agent"
	ProposalTypeAgentUpgrade ProposalType = "agent_upgrade"
	ProposalTypeStylePack    ProposalType = "style_pack"
	ProposalTypeFeature      ProposalType = "feature"
	ProposalTypeParameter    ProposalType = "parameter"
	ProposalTypeTreasury     ProposalType = "treasury"
	ProposalTypeEcosystem    ProposalType = "ecosystem"
)

// Valid reports whether the proposal type is a supported kind.
func (t ProposalType) Valid() bool {
	switch t {
	case ProposalTypeNewAgent, ProposalTypeAgentUpgrade, ProposalTypeStylePack,
		ProposalTypeFeature, ProposalTypeParameter, ProposalTypeTreasury,
		ProposalTypeEcosystem:
		return true
	default:
		return false
	}
}

// ProposalStatus enumerates the lifecycle phases a proposal transitions
// through: active -> passed | rejected | expired, and passed -> executed.
type ProposalStatus uint8

const (
	// ProposalStatusUnspecified indicates the proposal has not been
	// initialised and should not appear in state.
	ProposalStatusUnspecified ProposalStatus = iota
	// ProposalStatusActive identifies proposals currently accepting votes.
	ProposalStatusActive
	// ProposalStatusPassed marks proposals that met quorum and the
	// approval threshold and are awaiting execution.
	ProposalStatusPassed
	// ProposalStatusRejected marks proposals that reached quorum but fell
	// short of the approval threshold.
	ProposalStatusRejected
	// ProposalStatusExpired marks proposals whose voting window closed
	// without reaching quorum.
	ProposalStatusExpired
	// ProposalStatusExecuted indicates the proposal action has been
	// applied.
	ProposalStatusExecuted
)

// String provides the textual status used in logs and API payloads.
func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusActive:
		return "active"
	case ProposalStatusPassed:
		return "passed"
	case ProposalStatusRejected:
		return "rejected"
	case ProposalStatusExpired:
		return "expired"
	case ProposalStatusExecuted:
		return "executed"
	default:
		return "unspecified"
	}
}

// Terminal reports whether the status can no longer change except for the
// passed -> executed step.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalStatusRejected, ProposalStatusExpired, ProposalStatusExecuted:
		return true
	default:
		return false
	}
}

// MarshalJSON renders the status as its string form.
func (s ProposalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form back into the enum.
func (s *ProposalStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "active":
		*s = ProposalStatusActive
	case "passed":
		*s = ProposalStatusPassed
	case "rejected":
		*s = ProposalStatusRejected
	case "expired":
		*s = ProposalStatusExpired
	case "executed":
		*s = ProposalStatusExecuted
	default:
		*s = ProposalStatusUnspecified
	}
	return nil
}

// Tally captures the finalization outcome stored on the proposal. Power
// values are staked base units at vote time; ApprovalRate and
// QuorumProgress are display ratios in [0,1].
type Tally struct {
	TotalVotingPower *big.Int `json:"totalVotingPower"`
	QuorumReached    bool     `json:"quorumReached"`
	Approved         bool     `json:"approved"`
	ApprovalRate     float64  `json:"approvalRate"`
	QuorumProgress   float64  `json:"quorumProgress"`
}

// ExecutionRecord notes that a passed proposal's type-specific action was
// applied. The action itself is opaque to this core.
type ExecutionRecord struct {
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Executor string          `json:"executor"`
	At       time.Time       `json:"at"`
}

// Proposal is the persistent record of a governance proposal and its running
// tally. The per-voter ballots live in separate vote records.
type Proposal struct {
	ID           uint64           `json:"id"`
	Proposer     string           `json:"proposer"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Type         ProposalType     `json:"type"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	Status       ProposalStatus   `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	VotingEnds   time.Time        `json:"votingEnds"`
	VotesFor     uint64           `json:"votesFor"`
	VotesAgainst uint64           `json:"votesAgainst"`
	PowerFor     *big.Int         `json:"powerFor"`
	PowerAgainst *big.Int         `json:"powerAgainst"`
	FinalizedAt  time.Time        `json:"finalizedAt,omitempty"`
	Result       *Tally           `json:"result,omitempty"`
	Execution    *ExecutionRecord `json:"execution,omitempty"`
}

func (p *Proposal) clone() *Proposal {
	out := *p
	out.PowerFor = new(big.Int).Set(p.PowerFor)
	out.PowerAgainst = new(big.Int).Set(p.PowerAgainst)
	if p.Result != nil {
		tally := *p.Result
		tally.TotalVotingPower = new(big.Int).Set(p.Result.TotalVotingPower)
		out.Result = &tally
	}
	if p.Execution != nil {
		exec := *p.Execution
		out.Execution = &exec
	}
	return &out
}

// Vote describes a single account's ballot. The latest submission replaces
// any prior ballot entirely.
type Vote struct {
	ProposalID uint64    `json:"proposalId"`
	Voter      string    `json:"voter"`
	Support    bool      `json:"support"`
	Power      *big.Int  `json:"power"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats aggregates governance activity for reporting.
type Stats struct {
	TotalProposals     int            `json:"totalProposals"`
	ExecutedProposals  int            `json:"executedProposals"`
	StatusDistribution map[string]int `json:"statusDistribution"`
	TypeDistribution   map[string]int `json:"typeDistribution"`
	TotalVotesCast     int            `json:"totalVotesCast"`
}
