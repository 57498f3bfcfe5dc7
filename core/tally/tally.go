// Package tally implements quadratic funding bookkeeping. For every project it
// keeps the running sum of contributions and of their square roots, and in
// aggregate the quadratic sum, the linear sum and the alpha weighted total
// funding.
//
// Funding of a project is
//
//	floor(alpha * sumSquareRoots^2) + floor((1 - alpha) * sumContributions)
//
// and the aggregate total uses the same floors over the aggregate sums, so the
// per-project amounts never add up to more than the total.
package tally

import (
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/axiomesh/allocator/core/amount"
)

// DefaultToleranceDivisor accepts vote weights down to 10% below the integer
// square root of the contribution.
const DefaultToleranceDivisor = 10

var (
	ErrZeroContribution = errors.New("contribution must be positive")
	ErrZeroVoteWeight   = errors.New("vote weight must be positive")
	ErrSquareRootTooBig = errors.New("vote weight squared exceeds contribution")
	ErrOutsideTolerance = errors.New("vote weight outside square root tolerance")
	ErrInvalidAlpha     = errors.New("invalid alpha")

	// ErrToleranceMismatch is returned when a snapshot was taken with a
	// different tolerance divisor than the engine restoring it.
	ErrToleranceMismatch = errors.New("tolerance divisor differs from snapshot")
)

// Project is the running tally of one proposal.
type Project struct {
	SumContributions *uint256.Int
	SumSquareRoots   *uint256.Int
}

// ProjectTally is the weighted view of a project.
type ProjectTally struct {
	SumContributions *uint256.Int
	SumSquareRoots   *uint256.Int
	QuadraticFunding *uint256.Int
	LinearFunding    *uint256.Int
}

// Funding is the total weighted funding of the project.
func (t ProjectTally) Funding() *uint256.Int {
	return new(uint256.Int).Add(t.QuadraticFunding, t.LinearFunding)
}

// Totals are the aggregates over all projects.
type Totals struct {
	QuadraticSum     *uint256.Int
	LinearSum        *uint256.Int
	Funding          *uint256.Int
	AlphaNumerator   *uint256.Int
	AlphaDenominator *uint256.Int
}

type Option func(*Engine)

// WithToleranceDivisor sets the width of the accepted band below the square
// root to sqrt/divisor.
func WithToleranceDivisor(divisor uint64) Option {
	return func(e *Engine) {
		e.toleranceDivisor = divisor
	}
}

// Engine is not safe for concurrent use.
type Engine struct {
	projects map[uint64]*Project

	alphaNumerator   *uint256.Int
	alphaDenominator *uint256.Int

	totalQuadraticSum *uint256.Int
	totalLinearSum    *uint256.Int
	totalFunding      *uint256.Int

	toleranceDivisor uint64
}

func New(alphaNumerator, alphaDenominator *uint256.Int, opts ...Option) (*Engine, error) {
	e := &Engine{
		projects:          make(map[uint64]*Project),
		totalQuadraticSum: amount.Zero(),
		totalLinearSum:    amount.Zero(),
		totalFunding:      amount.Zero(),
		toleranceDivisor:  DefaultToleranceDivisor,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.toleranceDivisor == 0 {
		return nil, errors.New("tolerance divisor must be positive")
	}
	if err := e.SetAlpha(alphaNumerator, alphaDenominator); err != nil {
		return nil, err
	}
	return e, nil
}

// ProcessVote folds a vote of the given contribution and weight into the
// project and the aggregates.
func (e *Engine) ProcessVote(projectID uint64, contribution, voteWeight *uint256.Int) error {
	if contribution == nil || contribution.IsZero() {
		return ErrZeroContribution
	}
	if voteWeight == nil || voteWeight.IsZero() {
		return ErrZeroVoteWeight
	}
	if err := e.checkWeight(contribution, voteWeight); err != nil {
		return err
	}

	project := e.project(projectID)

	newSumSquareRoots, err := amount.Add(project.SumSquareRoots, voteWeight)
	if err != nil {
		return errors.Wrap(err, "sum of square roots")
	}
	newSumContributions, err := amount.Add(project.SumContributions, contribution)
	if err != nil {
		return errors.Wrap(err, "sum of contributions")
	}
	oldQuadratic, err := amount.Mul(project.SumSquareRoots, project.SumSquareRoots)
	if err != nil {
		return errors.Wrap(err, "old quadratic funding")
	}
	newQuadratic, err := amount.Mul(newSumSquareRoots, newSumSquareRoots)
	if err != nil {
		return errors.Wrap(err, "new quadratic funding")
	}

	// remove the project's old share before adding the new one, the
	// aggregates always contain the old share so neither step underflows
	quadraticSum, err := amount.Sub(e.totalQuadraticSum, oldQuadratic)
	if err != nil {
		return errors.Wrap(err, "quadratic sum")
	}
	if quadraticSum, err = amount.Add(quadraticSum, newQuadratic); err != nil {
		return errors.Wrap(err, "quadratic sum")
	}
	linearSum, err := amount.Sub(e.totalLinearSum, project.SumContributions)
	if err != nil {
		return errors.Wrap(err, "linear sum")
	}
	if linearSum, err = amount.Add(linearSum, newSumContributions); err != nil {
		return errors.Wrap(err, "linear sum")
	}
	funding, err := e.weightedFunding(quadraticSum, linearSum)
	if err != nil {
		return err
	}

	project.SumSquareRoots = newSumSquareRoots
	project.SumContributions = newSumContributions
	e.projects[projectID] = project
	e.totalQuadraticSum = quadraticSum
	e.totalLinearSum = linearSum
	e.totalFunding = funding
	return nil
}

func (e *Engine) checkWeight(contribution, voteWeight *uint256.Int) error {
	squared, err := amount.Mul(voteWeight, voteWeight)
	if err != nil || squared.Gt(contribution) {
		return errors.Wrapf(ErrSquareRootTooBig, "weight %s, contribution %s", voteWeight, contribution)
	}

	root := new(uint256.Int).Sqrt(contribution)
	tolerance := new(uint256.Int).Div(root, uint256.NewInt(e.toleranceDivisor))
	floor := new(uint256.Int).Sub(root, tolerance)
	if voteWeight.Lt(floor) || voteWeight.Gt(root) {
		return errors.Wrapf(ErrOutsideTolerance, "weight %s, accepted [%s, %s]", voteWeight, floor, root)
	}
	return nil
}

// SetAlpha replaces alpha and recomputes the total funding from the stored
// aggregates.
func (e *Engine) SetAlpha(numerator, denominator *uint256.Int) error {
	if numerator == nil || denominator == nil || denominator.IsZero() {
		return errors.Wrap(ErrInvalidAlpha, "denominator must be positive")
	}
	if numerator.Gt(denominator) {
		return errors.Wrapf(ErrInvalidAlpha, "%s/%s exceeds one", numerator, denominator)
	}

	prevNumerator, prevDenominator := e.alphaNumerator, e.alphaDenominator
	e.alphaNumerator, e.alphaDenominator = numerator.Clone(), denominator.Clone()
	funding, err := e.weightedFunding(e.totalQuadraticSum, e.totalLinearSum)
	if err != nil {
		e.alphaNumerator, e.alphaDenominator = prevNumerator, prevDenominator
		return err
	}
	e.totalFunding = funding
	return nil
}

func (e *Engine) weightedFunding(quadraticSum, linearSum *uint256.Int) (*uint256.Int, error) {
	quadratic, err := amount.MulDiv(e.alphaNumerator, quadraticSum, e.alphaDenominator, false)
	if err != nil {
		return nil, errors.Wrap(err, "weighted quadratic funding")
	}
	linearWeight := new(uint256.Int).Sub(e.alphaDenominator, e.alphaNumerator)
	linear, err := amount.MulDiv(linearWeight, linearSum, e.alphaDenominator, false)
	if err != nil {
		return nil, errors.Wrap(err, "weighted linear funding")
	}
	total, err := amount.Add(quadratic, linear)
	if err != nil {
		return nil, errors.Wrap(err, "total funding")
	}
	return total, nil
}

func (e *Engine) project(projectID uint64) *Project {
	if p, ok := e.projects[projectID]; ok {
		return &Project{
			SumContributions: p.SumContributions.Clone(),
			SumSquareRoots:   p.SumSquareRoots.Clone(),
		}
	}
	return &Project{SumContributions: amount.Zero(), SumSquareRoots: amount.Zero()}
}

// Tally returns the weighted funding of a project. Unknown projects have an
// all zero tally.
func (e *Engine) Tally(projectID uint64) (ProjectTally, error) {
	p := e.project(projectID)
	squared, err := amount.Mul(p.SumSquareRoots, p.SumSquareRoots)
	if err != nil {
		return ProjectTally{}, err
	}
	quadratic, err := amount.MulDiv(e.alphaNumerator, squared, e.alphaDenominator, false)
	if err != nil {
		return ProjectTally{}, err
	}
	linearWeight := new(uint256.Int).Sub(e.alphaDenominator, e.alphaNumerator)
	linear, err := amount.MulDiv(linearWeight, p.SumContributions, e.alphaDenominator, false)
	if err != nil {
		return ProjectTally{}, err
	}
	return ProjectTally{
		SumContributions: p.SumContributions,
		SumSquareRoots:   p.SumSquareRoots,
		QuadraticFunding: quadratic,
		LinearFunding:    linear,
	}, nil
}

func (e *Engine) Totals() Totals {
	return Totals{
		QuadraticSum:     e.totalQuadraticSum.Clone(),
		LinearSum:        e.totalLinearSum.Clone(),
		Funding:          e.totalFunding.Clone(),
		AlphaNumerator:   e.alphaNumerator.Clone(),
		AlphaDenominator: e.alphaDenominator.Clone(),
	}
}

// ProjectIDs returns the ids of all projects that received a vote.
func (e *Engine) ProjectIDs() []uint64 {
	ids := make([]uint64, 0, len(e.projects))
	for id := range e.projects {
		ids = append(ids, id)
	}
	return ids
}

// OptimalAlpha solves alpha*quadraticSum + (1-alpha)*linearSum = matchingPool
// + userDeposits, clamped to [0, 1]. It returns 0/1 when quadratic funding
// has no advantage over linear funding or the assets cannot even cover the
// linear sum.
func OptimalAlpha(matchingPool, quadraticSum, linearSum, userDeposits *uint256.Int) (numerator, denominator *uint256.Int, err error) {
	available, err := amount.Add(matchingPool, userDeposits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "available assets")
	}
	if !quadraticSum.Gt(linearSum) || !available.Gt(linearSum) {
		return amount.Zero(), amount.New(1), nil
	}
	if !available.Lt(quadraticSum) {
		return amount.New(1), amount.New(1), nil
	}
	return new(uint256.Int).Sub(available, linearSum), new(uint256.Int).Sub(quadraticSum, linearSum), nil
}

// Snapshot is the persisted form of an Engine.
type Snapshot struct {
	Projects         map[uint64]ProjectSnapshot `json:"projects"`
	AlphaNumerator   *math.HexOrDecimal256     `json:"alpha_numerator"`
	AlphaDenominator *math.HexOrDecimal256     `json:"alpha_denominator"`
	ToleranceDivisor uint64                    `json:"tolerance_divisor"`
}

type ProjectSnapshot struct {
	SumContributions *math.HexOrDecimal256 `json:"sum_contributions"`
	SumSquareRoots   *math.HexOrDecimal256 `json:"sum_square_roots"`
}

func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Projects:         make(map[uint64]ProjectSnapshot, len(e.projects)),
		AlphaNumerator:   amount.Encode(e.alphaNumerator),
		AlphaDenominator: amount.Encode(e.alphaDenominator),
		ToleranceDivisor: e.toleranceDivisor,
	}
	for id, p := range e.projects {
		s.Projects[id] = ProjectSnapshot{
			SumContributions: amount.Encode(p.SumContributions),
			SumSquareRoots:   amount.Encode(p.SumSquareRoots),
		}
	}
	return s
}

// Restore replaces the engine state and rebuilds the aggregates from the
// per-project sums.
func (e *Engine) Restore(s Snapshot) error {
	projects := make(map[uint64]*Project, len(s.Projects))
	quadraticSum, linearSum := amount.Zero(), amount.Zero()
	for id, ps := range s.Projects {
		contributions, err := amount.Decode(ps.SumContributions)
		if err != nil {
			return errors.Wrapf(err, "project %d contributions", id)
		}
		roots, err := amount.Decode(ps.SumSquareRoots)
		if err != nil {
			return errors.Wrapf(err, "project %d square roots", id)
		}
		squared, err := amount.Mul(roots, roots)
		if err != nil {
			return errors.Wrapf(err, "project %d quadratic funding", id)
		}
		if quadraticSum, err = amount.Add(quadraticSum, squared); err != nil {
			return err
		}
		if linearSum, err = amount.Add(linearSum, contributions); err != nil {
			return err
		}
		projects[id] = &Project{SumContributions: contributions, SumSquareRoots: roots}
	}
	numerator, err := amount.Decode(s.AlphaNumerator)
	if err != nil {
		return err
	}
	denominator, err := amount.Decode(s.AlphaDenominator)
	if err != nil {
		return err
	}
	if s.ToleranceDivisor != 0 && s.ToleranceDivisor != e.toleranceDivisor {
		return errors.Wrapf(ErrToleranceMismatch, "snapshot %d, configured %d", s.ToleranceDivisor, e.toleranceDivisor)
	}
	e.projects = projects
	e.totalQuadraticSum = quadraticSum
	e.totalLinearSum = linearSum
	return e.SetAlpha(numerator, denominator)
}
