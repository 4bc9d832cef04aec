package reconcile

import (
	"testing"

	"github.com/openkarl/karl/record"
	"github.com/stretchr/testify/require"
)

// Scenario 4 of spec.md §8: stale update rejected, higher-quality update
// at the same clock accepted.
func TestAcceptStaleThenHigherQuality(t *testing.T) {
	existing := record.Int(7)
	existing.Clock = 10
	existing.Quality = 5

	outcome, got := Accept(existing, "k", record.Int(99), 5, 9)
	require.Equal(t, RejectedByClock, outcome)
	require.Equal(t, existing, got)

	outcome, got = Accept(existing, "k", record.Int(42), 6, 10)
	require.Equal(t, Accepted, outcome)
	require.Equal(t, int64(42), got.ToInteger())
	require.Equal(t, uint64(10), got.Clock)
	require.Equal(t, uint32(6), got.Quality)
}

func TestAcceptRejectsBadName(t *testing.T) {
	outcome, _ := Accept(record.Record{}, "", record.Int(1), 1, 1)
	require.Equal(t, RejectedBadName, outcome)

	outcome, _ = Accept(record.Record{}, ".local", record.Int(1), 1, 1)
	require.Equal(t, RejectedBadName, outcome)
}

func TestAcceptRejectsLowerQuality(t *testing.T) {
	existing := record.Int(1)
	existing.Quality = 5
	existing.Clock = 1

	outcome, got := Accept(existing, "k", record.Int(2), 4, 999)
	require.Equal(t, RejectedByQuality, outcome)
	require.Equal(t, existing, got)
}

func TestAcceptClockEqualityIsRejected(t *testing.T) {
	existing := record.Int(1)
	existing.Quality = 5
	existing.Clock = 10

	outcome, _ := Accept(existing, "k", record.Int(2), 5, 10)
	require.Equal(t, RejectedByClock, outcome)
}

func TestAcceptHigherClockSameQuality(t *testing.T) {
	existing := record.Int(1)
	existing.Quality = 5
	existing.Clock = 10

	outcome, got := Accept(existing, "k", record.Int(2), 5, 11)
	require.Equal(t, Accepted, outcome)
	require.Equal(t, int64(2), got.ToInteger())
}
