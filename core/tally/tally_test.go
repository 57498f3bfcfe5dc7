package tally

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func newEngine(t *testing.T, num, den uint64, opts ...Option) *Engine {
	e, err := New(u(num), u(den), opts...)
	require.Nil(t, err)
	return e
}

func TestProcessVoteWeightBounds(t *testing.T) {
	tests := []struct {
		name         string
		contribution uint64
		weight       uint64
		err          error
	}{
		{"exact root", 100, 10, nil},
		{"inside band", 100, 9, nil},
		{"below band", 100, 8, ErrOutsideTolerance},
		{"square too large", 100, 11, ErrSquareRootTooBig},
		{"non square contribution", 150, 12, nil},
		{"non square lower edge", 150, 11, nil},
		{"non square below edge", 150, 10, ErrOutsideTolerance},
		{"zero contribution", 0, 1, ErrZeroContribution},
		{"zero weight", 100, 0, ErrZeroVoteWeight},
		{"small root has no band", 3, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, 1, 1)
			err := e.ProcessVote(1, u(tt.contribution), u(tt.weight))
			if tt.err == nil {
				assert.Nil(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			// rejected votes leave the aggregates untouched
			assert.True(t, e.Totals().Funding.IsZero())
		})
	}
}

func TestToleranceDivisorIsConfigurable(t *testing.T) {
	e := newEngine(t, 1, 1, WithToleranceDivisor(5))
	assert.Nil(t, e.ProcessVote(1, u(100), u(8)))
	assert.ErrorIs(t, e.ProcessVote(1, u(100), u(7)), ErrOutsideTolerance)

	_, err := New(u(1), u(1), WithToleranceDivisor(0))
	assert.NotNil(t, err)
}

func TestTwoVotersFullAlpha(t *testing.T) {
	e := newEngine(t, 1, 1)
	require.Nil(t, e.ProcessVote(1, u(100), u(10)))
	require.Nil(t, e.ProcessVote(1, u(100), u(10)))

	totals := e.Totals()
	assert.Equal(t, u(400), totals.QuadraticSum)
	assert.Equal(t, u(200), totals.LinearSum)
	assert.Equal(t, u(400), totals.Funding)

	tally, err := e.Tally(1)
	require.Nil(t, err)
	assert.Equal(t, u(20), tally.SumSquareRoots)
	assert.Equal(t, u(200), tally.SumContributions)
	assert.Equal(t, u(400), tally.QuadraticFunding)
	assert.True(t, tally.LinearFunding.IsZero())
	assert.Equal(t, u(400), tally.Funding())
}

func TestSetAlphaRecomputesWithoutReplay(t *testing.T) {
	e := newEngine(t, 1, 1)
	require.Nil(t, e.ProcessVote(1, u(100), u(10)))
	require.Nil(t, e.ProcessVote(2, u(49), u(7)))

	require.Nil(t, e.SetAlpha(u(1), u(2)))
	totals := e.Totals()
	// quadratic 100+49, linear 100+49, each half floored
	assert.Equal(t, u(149), totals.QuadraticSum)
	assert.Equal(t, u(148), totals.Funding)

	require.Nil(t, e.SetAlpha(u(0), u(1)))
	assert.Equal(t, u(149), e.Totals().Funding)

	assert.ErrorIs(t, e.SetAlpha(u(2), u(1)), ErrInvalidAlpha)
	assert.ErrorIs(t, e.SetAlpha(u(1), u(0)), ErrInvalidAlpha)
	assert.Equal(t, u(0), e.Totals().AlphaNumerator)
}

func TestRoundingDustIsBoundedAndConservative(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	alphas := [][2]uint64{{1, 3}, {2, 7}, {5, 9}, {1, 1}, {0, 1}, {999, 1000}}
	for _, alpha := range alphas {
		e := newEngine(t, alpha[0], alpha[1])
		projects := uint64(1 + r.Intn(12))
		for i := 0; i < 200; i++ {
			weight := uint64(1 + r.Intn(5000))
			contribution := weight*weight + uint64(r.Intn(int(2*weight)))
			require.Nil(t, e.ProcessVote(1+uint64(r.Intn(int(projects))), u(contribution), u(weight)))
		}

		sum := new(uint256.Int)
		for _, id := range e.ProjectIDs() {
			tally, err := e.Tally(id)
			require.Nil(t, err)
			sum.Add(sum, tally.Funding())
		}
		total := e.Totals().Funding
		require.False(t, sum.Gt(total), "alpha %v: per-project %s exceeds total %s", alpha, sum, total)
		dust := new(uint256.Int).Sub(total, sum)
		bound := uint256.NewInt(2 * (uint64(len(e.ProjectIDs())) - 1))
		assert.False(t, dust.Gt(bound), "alpha %v: dust %s above bound %s", alpha, dust, bound)
	}
}

func TestIncrementalUpdateMatchesRebuild(t *testing.T) {
	e := newEngine(t, 3, 4)
	require.Nil(t, e.ProcessVote(1, u(400), u(20)))
	require.Nil(t, e.ProcessVote(2, u(81), u(9)))
	require.Nil(t, e.ProcessVote(1, u(25), u(5)))

	restored := newEngine(t, 1, 1)
	require.Nil(t, restored.Restore(e.Snapshot()))
	assert.Equal(t, e.Totals(), restored.Totals())

	want, err := e.Tally(1)
	require.Nil(t, err)
	got, err := restored.Tally(1)
	require.Nil(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreRejectsToleranceMismatch(t *testing.T) {
	e := newEngine(t, 1, 1, WithToleranceDivisor(5))
	require.Nil(t, e.ProcessVote(1, u(100), u(10)))

	other := newEngine(t, 1, 1)
	err := other.Restore(e.Snapshot())
	assert.ErrorIs(t, err, ErrToleranceMismatch)
	assert.True(t, other.Totals().Funding.IsZero())

	same := newEngine(t, 1, 1, WithToleranceDivisor(5))
	require.Nil(t, same.Restore(e.Snapshot()))
	assert.Equal(t, e.Totals(), same.Totals())
}

func TestOptimalAlpha(t *testing.T) {
	tests := []struct {
		name                   string
		pool, quad, lin, users uint64
		num, den               uint64
	}{
		{"no quadratic advantage", 1000, 100, 100, 0, 0, 1},
		{"assets below linear sum", 0, 400, 200, 150, 0, 1},
		{"assets cover quadratic sum", 300, 400, 200, 200, 1, 1},
		{"interpolated", 100, 400, 200, 200, 100, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num, den, err := OptimalAlpha(u(tt.pool), u(tt.quad), u(tt.lin), u(tt.users))
			require.Nil(t, err)
			assert.Equal(t, u(tt.num), num)
			assert.Equal(t, u(tt.den), den)
		})
	}
}
