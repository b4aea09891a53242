package governance

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"anima/observability"
	"anima/storage"
)

const (
	// VotingPeriod is the fixed window during which a proposal accepts
	// votes.
	VotingPeriod = 7 * 24 * time.Hour
	// QuorumBps is the fraction of globally staked tokens that must vote
	// for an outcome to be binding.
	QuorumBps uint64 = 1_000 // 10%
	// ApprovalThresholdBps is the share of cast power that must support a
	// proposal for it to pass.
	ApprovalThresholdBps uint64 = 6_600 // 66%
)

// MinStakeToProposeTokens is the stake floor for creating proposals, in
// whole ANM.
const MinStakeToProposeTokens = 100

var (
	// ErrProposalNotFound is returned when no proposal exists for the ID.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrInvalidProposalState is returned for operations that the
	// proposal's current status does not admit.
	ErrInvalidProposalState = errors.New("governance: invalid proposal state")
	// ErrNoVotingPower is returned when a zero-stake account attempts to
	// vote.
	ErrNoVotingPower = errors.New("governance: no staked tokens")
	// ErrInsufficientProposerStake is returned when the proposer's stake
	// is below the proposal floor.
	ErrInsufficientProposerStake = errors.New("governance: insufficient stake to propose")
	// ErrInvalidProposalType is returned for unknown proposal kinds.
	ErrInvalidProposalType = errors.New("governance: unsupported proposal type")
)

var (
	prefixProposal = []byte("gov/proposal/")
	prefixVote     = []byte("gov/vote/")
	keyProposalSeq = []byte("gov/seq")
)

// stakeReader is the slice of the stake registry the engine consumes. The
// engine only ever reads stake state.
type stakeReader interface {
	StakedAmount(account string) *big.Int
	TotalStaked() *big.Int
}

// Engine orchestrates proposal admission, voting, and finalization. Voting
// power is the voter's staked amount at the moment the ballot is cast;
// later stake changes neither amplify nor retract recorded ballots.
type Engine struct {
	mu        sync.Mutex
	db        storage.Database
	stakes    stakeReader
	nowFn     func() time.Time
	minStake  *big.Int
	proposals map[uint64]*Proposal
	votes     map[uint64]map[string]*Vote
	seq       uint64
}

// NewEngine opens a governance engine over the database, reloading any
// persisted proposals and ballots.
func NewEngine(db storage.Database, stakes stakeReader, minStake *big.Int) (*Engine, error) {
	e := &Engine{
		db:        db,
		stakes:    stakes,
		nowFn:     func() time.Time { return time.Now().UTC() },
		minStake:  new(big.Int).Set(minStake),
		proposals: make(map[uint64]*Proposal),
		votes:     make(map[uint64]map[string]*Vote),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetNowFunc overrides the time source used to stamp proposals and close
// voting windows. Nil restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) load() error {
	if raw, err := e.db.Get(keyProposalSeq); err == nil {
		if err := json.Unmarshal(raw, &e.seq); err != nil {
			return fmt.Errorf("governance: decode proposal sequence: %w", err)
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return err
	}
	if err := e.db.IteratePrefix(prefixProposal, func(_, value []byte) error {
		p := &Proposal{}
		if err := json.Unmarshal(value, p); err != nil {
			return fmt.Errorf("governance: decode proposal: %w", err)
		}
		e.proposals[p.ID] = p
		return nil
	}); err != nil {
		return err
	}
	return e.db.IteratePrefix(prefixVote, func(_, value []byte) error {
		v := &Vote{}
		if err := json.Unmarshal(value, v); err != nil {
			return fmt.Errorf("governance: decode vote: %w", err)
		}
		ballots, ok := e.votes[v.ProposalID]
		if !ok {
			ballots = make(map[string]*Vote)
			e.votes[v.ProposalID] = ballots
		}
		ballots[v.Voter] = v
		return nil
	})
}

func (e *Engine) persistProposal(p *Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return e.db.Put(append(prefixProposal, fmt.Sprintf("%020d", p.ID)...), raw)
}

func (e *Engine) persistVote(v *Vote) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := append(prefixVote, fmt.Sprintf("%020d/%s", v.ProposalID, v.Voter)...)
	return e.db.Put(key, raw)
}

// Propose admits a new proposal after checking the proposer's stake floor.
func (e *Engine) Propose(proposer, title, description string, kind ProposalType, payload json.RawMessage) (*Proposal, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProposalType, kind)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("governance: proposal title must not be empty")
	}

	staked := e.stakes.StakedAmount(proposer)
	if staked.Cmp(e.minStake) < 0 {
		return nil, ErrInsufficientProposerStake
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	now := e.nowFn()
	proposal := &Proposal{
		ID:           e.seq,
		Proposer:     proposer,
		Title:        strings.TrimSpace(title),
		Description:  description,
		Type:         kind,
		Payload:      append(json.RawMessage(nil), payload...),
		Status:       ProposalStatusActive,
		CreatedAt:    now,
		VotingEnds:   now.Add(VotingPeriod),
		PowerFor:     big.NewInt(0),
		PowerAgainst: big.NewInt(0),
	}
	if err := e.persistProposal(proposal); err != nil {
		return nil, err
	}
	seqRaw, err := json.Marshal(e.seq)
	if err != nil {
		return nil, err
	}
	if err := e.db.Put(keyProposalSeq, seqRaw); err != nil {
		return nil, err
	}
	e.proposals[proposal.ID] = proposal
	e.votes[proposal.ID] = make(map[string]*Vote)
	return proposal.clone(), nil
}

// CastVote records the voter's ballot weighted by their current staked
// amount. Re-voting replaces the previous ballot entirely: the old tally
// contribution is subtracted before the new one is added, and the distinct
// voter count only moves on a first vote.
func (e *Engine) CastVote(proposalID uint64, voter string, support bool) (*Proposal, error) {
	power := e.stakes.StakedAmount(voter)
	if power.Sign() <= 0 {
		return nil, ErrNoVotingPower
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	proposal, ok := e.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	now := e.nowFn()
	if err := e.finalizeLocked(proposal, now); err != nil {
		return nil, err
	}
	if proposal.Status != ProposalStatusActive {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrInvalidProposalState, proposalID, proposal.Status)
	}

	ballots := e.votes[proposalID]
	if ballots == nil {
		ballots = make(map[string]*Vote)
		e.votes[proposalID] = ballots
	}
	if previous, voted := ballots[voter]; voted {
		if previous.Support {
			proposal.VotesFor--
			proposal.PowerFor = new(big.Int).Sub(proposal.PowerFor, previous.Power)
		} else {
			proposal.VotesAgainst--
			proposal.PowerAgainst = new(big.Int).Sub(proposal.PowerAgainst, previous.Power)
		}
	}

	vote := &Vote{
		ProposalID: proposalID,
		Voter:      voter,
		Support:    support,
		Power:      new(big.Int).Set(power),
		Timestamp:  now,
	}
	ballots[voter] = vote
	if support {
		proposal.VotesFor++
		proposal.PowerFor = new(big.Int).Add(proposal.PowerFor, power)
	} else {
		proposal.VotesAgainst++
		proposal.PowerAgainst = new(big.Int).Add(proposal.PowerAgainst, power)
	}

	if err := e.persistVote(vote); err != nil {
		return nil, err
	}
	if err := e.persistProposal(proposal); err != nil {
		return nil, err
	}
	return proposal.clone(), nil
}

// finalizeLocked applies the terminal transition exactly once when the
// voting window has closed. Idempotent: a proposal already finalized keeps
// its stored result, so concurrent readers can race here safely. Caller
// must hold the engine mutex.
func (e *Engine) finalizeLocked(proposal *Proposal, now time.Time) error {
	if proposal.Status != ProposalStatusActive || !now.After(proposal.VotingEnds) {
		return nil
	}

	totalPower := new(big.Int).Add(proposal.PowerFor, proposal.PowerAgainst)
	totalStaked := e.stakes.TotalStaked()

	// quorum: totalPower / totalStaked >= QuorumBps/10000, in integers.
	quorumReached := false
	if totalStaked.Sign() > 0 {
		lhs := new(big.Int).Mul(totalPower, big.NewInt(10_000))
		rhs := new(big.Int).Mul(totalStaked, new(big.Int).SetUint64(QuorumBps))
		quorumReached = lhs.Cmp(rhs) >= 0
	}

	// approval: powerFor / totalPower >= ApprovalThresholdBps/10000.
	approved := false
	approvalRate := 0.0
	if totalPower.Sign() > 0 {
		lhs := new(big.Int).Mul(proposal.PowerFor, big.NewInt(10_000))
		rhs := new(big.Int).Mul(totalPower, new(big.Int).SetUint64(ApprovalThresholdBps))
		approved = lhs.Cmp(rhs) >= 0
		rate := new(big.Rat).SetFrac(proposal.PowerFor, totalPower)
		approvalRate, _ = rate.Float64()
	}

	quorumProgress := 0.0
	if totalStaked.Sign() > 0 {
		progress := new(big.Rat).SetFrac(totalPower, totalStaked)
		quorumProgress, _ = progress.Float64()
	}

	switch {
	case quorumReached && approved:
		proposal.Status = ProposalStatusPassed
	case !quorumReached:
		proposal.Status = ProposalStatusExpired
	default:
		proposal.Status = ProposalStatusRejected
	}
	proposal.FinalizedAt = now
	proposal.Result = &Tally{
		TotalVotingPower: totalPower,
		QuorumReached:    quorumReached,
		Approved:         approved,
		ApprovalRate:     approvalRate,
		QuorumProgress:   quorumProgress,
	}
	if err := e.persistProposal(proposal); err != nil {
		return err
	}
	observability.Economy().ProposalsFinalized.WithLabelValues(proposal.Status.String()).Inc()
	return nil
}

// Finalize closes the proposal's voting window if it has elapsed. Calling it
// on an already-finalized proposal is a safe no-op returning the stored
// result.
func (e *Engine) Finalize(proposalID uint64) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	proposal, ok := e.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if err := e.finalizeLocked(proposal, e.nowFn()); err != nil {
		return nil, err
	}
	return proposal.clone(), nil
}

// Execute applies a passed proposal's type-specific action and transitions
// it to executed. Any other status yields ErrInvalidProposalState.
func (e *Engine) Execute(proposalID uint64, executor string) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposal, ok := e.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if err := e.finalizeLocked(proposal, e.nowFn()); err != nil {
		return nil, err
	}
	if proposal.Status != ProposalStatusPassed {
		return nil, fmt.Errorf("%w: cannot execute proposal %d with status %s",
			ErrInvalidProposalState, proposalID, proposal.Status)
	}

	proposal.Status = ProposalStatusExecuted
	proposal.Execution = &ExecutionRecord{
		Action:   executionAction(proposal.Type),
		Payload:  append(json.RawMessage(nil), proposal.Payload...),
		Executor: executor,
		At:       e.nowFn(),
	}
	if err := e.persistProposal(proposal); err != nil {
		return nil, err
	}
	return proposal.clone(), nil
}

func executionAction(kind ProposalType) string {
	switch kind {
	case ProposalTypeNewAgent:
		return "agent_added"
	case ProposalTypeAgentUpgrade:
		return "agent_upgraded"
	case ProposalTypeStylePack:
		return "style_pack_added"
	case ProposalTypeParameter:
		return "parameter_updated"
	case ProposalTypeTreasury:
		return "treasury_allocated"
	default:
		return "applied"
	}
}

// Proposal returns the proposal, lazily finalizing it first when the voting
// window has passed.
func (e *Engine) Proposal(proposalID uint64) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	proposal, ok := e.proposals[proposalID]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if err := e.finalizeLocked(proposal, e.nowFn()); err != nil {
		return nil, err
	}
	return proposal.clone(), nil
}

// ActiveProposals lists proposals still inside their voting window, lazily
// finalizing any whose window has closed.
func (e *Engine) ActiveProposals() ([]*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFn()
	var out []*Proposal
	for id := uint64(1); id <= e.seq; id++ {
		proposal, ok := e.proposals[id]
		if !ok {
			continue
		}
		if err := e.finalizeLocked(proposal, now); err != nil {
			return nil, err
		}
		if proposal.Status == ProposalStatusActive {
			out = append(out, proposal.clone())
		}
	}
	return out, nil
}

// VotesBy returns every ballot the account has cast, ordered by proposal.
func (e *Engine) VotesBy(voter string) []*Vote {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Vote
	for id := uint64(1); id <= e.seq; id++ {
		if ballots, ok := e.votes[id]; ok {
			if vote, voted := ballots[voter]; voted {
				copied := *vote
				copied.Power = new(big.Int).Set(vote.Power)
				out = append(out, &copied)
			}
		}
	}
	return out
}

// Stats aggregates proposal and ballot counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := Stats{
		TotalProposals:     len(e.proposals),
		StatusDistribution: make(map[string]int),
		TypeDistribution:   make(map[string]int),
	}
	for _, proposal := range e.proposals {
		stats.StatusDistribution[proposal.Status.String()]++
		stats.TypeDistribution[string(proposal.Type)]++
		if proposal.Status == ProposalStatusExecuted {
			stats.ExecutedProposals++
		}
	}
	for _, ballots := range e.votes {
		stats.TotalVotesCast += len(ballots)
	}
	return stats
}
