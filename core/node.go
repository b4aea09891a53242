package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"anima/core/types"
	"anima/native/access"
	"anima/native/ledger"
	"anima/native/stake"
	"anima/observability"
	"anima/scheduler"
)

// OnboardGrantTokens is the welcome grant minted once per account, in whole
// ANM.
const OnboardGrantTokens = 1_000

// CompletionBonusBps is the share of a job's cost minted back to the owner
// when the production completes successfully.
const CompletionBonusBps uint64 = 10 // 0.1%

// SubmissionReceipt reports an accepted production submission.
type SubmissionReceipt struct {
	JobID              uint64               `json:"jobId"`
	QueuePosition      int                  `json:"queuePosition"`
	PriorityScore      float64              `json:"priorityScore"`
	Charge             *ledger.FeeBreakdown `json:"charge"`
	EstimatedWait      time.Duration        `json:"estimatedWait"`
	EstimatedWaitHuman string               `json:"estimatedWaitHuman"`
}

// Node wires the economy components into the submission and processing
// pipeline: validate, charge, score, enqueue, and later execute.
type Node struct {
	ledger *ledger.Ledger
	stakes *stake.Registry
	policy *access.Policy
	sched  *scheduler.Scheduler
	exec   scheduler.Executor
	log    *slog.Logger
}

// NewNode assembles a node from its components.
func NewNode(l *ledger.Ledger, stakes *stake.Registry, policy *access.Policy, sched *scheduler.Scheduler, exec scheduler.Executor, log *slog.Logger) *Node {
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		ledger: l,
		stakes: stakes,
		policy: policy,
		sched:  sched,
		exec:   exec,
		log:    log,
	}
}

// Ledger exposes the balance authority.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Stakes exposes the stake registry.
func (n *Node) Stakes() *stake.Registry { return n.stakes }

// Scheduler exposes the job queue.
func (n *Node) Scheduler() *scheduler.Scheduler { return n.sched }

// Onboard mints the welcome grant for a new account, once.
func (n *Node) Onboard(account string) (*ledger.Transaction, error) {
	tx, err := n.ledger.Onboard(account, types.Tokens(OnboardGrantTokens))
	if err != nil {
		return nil, err
	}
	n.log.Info("account onboarded", "account", account, "grant", types.FormatAmount(tx.Amount))
	return tx, nil
}

// SubmitProduction runs the full admission pipeline: access validation,
// usage-fee charge, priority scoring, and enqueueing. Any failure leaves
// the pre-operation state intact; the charge is the last fallible economic
// step before the job record exists.
func (n *Node) SubmitProduction(account string, req access.Request) (*SubmissionReceipt, error) {
	validation := n.policy.Validate(account, req)
	if !validation.Valid {
		return nil, &access.ValidationError{Result: validation}
	}

	cost := access.EstimateCost(req)
	charge, err := n.ledger.ChargeUsageFee(account, cost)
	if err != nil {
		return nil, err
	}
	metrics := observability.Economy()
	metrics.FeesCollected.Add(types.TokensFloat(charge.Fee))
	metrics.TokensBurned.Add(types.TokensFloat(charge.Burned))

	score := n.stakes.PriorityScore(account)
	job, position, err := n.sched.SubmitJob(scheduler.Job{
		Owner:         account,
		Request:       req,
		PriorityScore: score,
		Cost:          cost,
	})
	if err != nil {
		return nil, err
	}

	wait := estimatedWait(position)
	n.log.Info("production submitted",
		"account", account,
		"job", job.ID,
		"priority", score,
		"position", position,
		"charged", types.FormatAmount(charge.TotalCharged),
		"burned", types.FormatAmount(charge.Burned),
	)
	return &SubmissionReceipt{
		JobID:              job.ID,
		QueuePosition:      position,
		PriorityScore:      score,
		Charge:             charge,
		EstimatedWait:      wait,
		EstimatedWaitHuman: humanWait(wait),
	}, nil
}

// estimatedWait assumes roughly two minutes of executor time per queued job.
func estimatedWait(position int) time.Duration {
	return time.Duration(position) * 2 * time.Minute
}

func humanWait(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("~%dm", minutes)
	}
	return fmt.Sprintf("~%dh %dm", minutes/60, minutes%60)
}

// ProcessNextJob dequeues the highest-priority job and runs it through the
// production executor. Returns (nil, nil) when the queue is empty. A
// successful completion mints the owner's completion bonus.
func (n *Node) ProcessNextJob(ctx context.Context) (*scheduler.Job, error) {
	job, ok, err := n.sched.PopHighest()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	n.log.Info("processing job", "job", job.ID, "owner", job.Owner, "priority", job.PriorityScore)
	start := time.Now()
	result, execErr := n.exec.Execute(ctx, job.Request)
	observability.Economy().JobDuration.Observe(time.Since(start).Seconds())

	if execErr != nil {
		finished, err := n.sched.Complete(job.ID, nil, execErr.Error())
		if err != nil {
			return nil, err
		}
		n.log.Warn("job failed", "job", job.ID, "reason", execErr.Error())
		return finished, nil
	}

	finished, err := n.sched.Complete(job.ID, &result, "")
	if err != nil {
		return nil, err
	}
	if err := n.awardCompletionBonus(finished); err != nil {
		return nil, err
	}
	n.log.Info("job completed", "job", job.ID, "quality", result.QualityScore)
	return finished, nil
}

func (n *Node) awardCompletionBonus(job *scheduler.Job) error {
	if job.Cost == nil {
		return nil
	}
	bonus := types.MulBps(job.Cost, CompletionBonusBps)
	if bonus.Sign() <= 0 {
		return nil
	}
	reason := fmt.Sprintf("completion_bonus_%d", job.ID)
	if _, err := n.ledger.Mint(job.Owner, bonus, reason); err != nil {
		return fmt.Errorf("core: award completion bonus: %w", err)
	}
	return nil
}

// RunWorkers drains the queue with count concurrent workers until the
// context is cancelled. Submission stays cheap while execution runs here.
func (n *Node) RunWorkers(ctx context.Context, count int, idle time.Duration) {
	if count <= 0 {
		count = 1
	}
	if idle <= 0 {
		idle = time.Second
	}
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				job, err := n.ProcessNextJob(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						n.log.Error("worker error", "worker", worker, "error", err.Error())
					}
				}
				if job == nil {
					select {
					case <-ctx.Done():
						return
					case <-time.After(idle):
					}
					continue
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}(i)
	}
	wg.Wait()
}

// StakeAndBalance is a convenience view combining the ledger and registry
// state for one account.
type StakeAndBalance struct {
	Balance *big.Int          `json:"balance"`
	Staking stake.AccountInfo `json:"staking"`
}

// AccountOverview returns the combined economic state of an account.
func (n *Node) AccountOverview(account string) StakeAndBalance {
	return StakeAndBalance{
		Balance: n.ledger.Balance(account),
		Staking: n.stakes.Info(account),
	}
}
