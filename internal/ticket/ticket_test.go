package ticket

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tambola-live/engine/internal/model"
)

func TestGenerateProducesValidTickets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		tk := Generate(rng)
		require.True(t, Validate(tk), "ticket %d failed validation: %+v", i, tk)
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	a := Generate(rand.New(rand.NewSource(7)))
	b := Generate(rand.New(rand.NewSource(7)))
	require.Equal(t, a, b)
}

func TestValidateRejectsUnevenRow(t *testing.T) {
	var tk model.Ticket
	// Row 0 has 4 non-zeros instead of 5 (row 1 carries the sixth), with
	// 15 distinct in-band numbers covering every column, so only the
	// row-count rule is violated.
	tk[0] = [9]int{1, 11, 21, 31, 0, 0, 0, 0, 0}
	tk[1] = [9]int{2, 0, 0, 0, 41, 51, 61, 71, 81}
	tk[2] = [9]int{0, 12, 22, 32, 42, 52, 0, 0, 0}

	require.False(t, Validate(tk))
}

func TestValidateRejectsOutOfBandColumn(t *testing.T) {
	var tk model.Ticket
	tk[0] = [9]int{1, 2, 3, 4, 5, 0, 0, 0, 0}
	tk[1][0] = 99 // column 0 only allows 1..9
	for i, v := range []int{11, 12, 13, 14, 15} {
		tk[1][1+i] = v
	}
	tk[2][0] = 6
	tk[2][1] = 7

	require.False(t, Validate(tk))
}

func TestValidateRejectsDuplicateNumber(t *testing.T) {
	var tk model.Ticket
	tk[0] = [9]int{1, 11, 21, 31, 41, 0, 0, 0, 0}
	tk[1] = [9]int{1, 0, 0, 0, 0, 51, 61, 71, 81} // 1 duplicated from row 0
	tk[2] = [9]int{0, 12, 22, 32, 42, 52, 0, 0, 0}

	require.False(t, Validate(tk))
}

func TestValidateRejectsEmptyColumn(t *testing.T) {
	var tk model.Ticket
	// Every row has exactly 5 non-zeros and the ticket totals 15 distinct,
	// in-band numbers, but column 8 is never touched.
	tk[0] = [9]int{1, 11, 21, 31, 41, 0, 0, 0, 0}
	tk[1] = [9]int{2, 12, 22, 32, 42, 0, 0, 0, 0}
	tk[2] = [9]int{3, 13, 0, 0, 0, 51, 61, 71, 0}

	require.False(t, Validate(tk))
}
