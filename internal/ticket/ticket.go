// Package ticket generates and validates 3x9 Tambola tickets.
package ticket

import (
	"math/rand"

	"github.com/tambola-live/engine/internal/model"
)

// columnRange returns the inclusive [lo, hi] range of numbers allowed in
// column c (0-indexed, 0..8).
func columnRange(c int) (int, int) {
	if c == 8 {
		return 81, 90
	}
	return 10*c + 1, 10*c + 9
}

// Generate produces a valid 3x9 ticket using rng for all randomness, so
// callers can inject a seeded source for deterministic tests.
func Generate(rng *rand.Rand) model.Ticket {
	// (a) pick 5 columns per row uniformly at random, tracking per-column
	// counts (each column's count is capped at 3 by construction since
	// there are only 3 rows).
	rowColumns := [3]map[int]bool{}
	colCount := [9]int{}

	for row := 0; row < 3; row++ {
		chosen := map[int]bool{}
		for len(chosen) < 5 {
			c := rng.Intn(9)
			if !chosen[c] {
				chosen[c] = true
			}
		}
		rowColumns[row] = chosen
		for c := range chosen {
			colCount[c]++
		}
	}

	// (b) rebalance: while some column has zero count, steal a slot from a
	// row that occupies a count-3 column but not the empty one.
	for {
		emptyCol := -1
		for c := 0; c < 9; c++ {
			if colCount[c] == 0 {
				emptyCol = c
				break
			}
		}
		if emptyCol == -1 {
			break
		}

		swapped := false
		for row := 0; row < 3 && !swapped; row++ {
			if rowColumns[row][emptyCol] {
				continue
			}
			for c := 0; c < 9; c++ {
				if c == emptyCol || !rowColumns[row][c] {
					continue
				}
				if colCount[c] != 3 {
					continue
				}
				delete(rowColumns[row], c)
				colCount[c]--
				rowColumns[row][emptyCol] = true
				colCount[emptyCol]++
				swapped = true
				break
			}
		}
		if !swapped {
			// No eligible donor found under the current random draw; retry
			// generation from scratch rather than loop forever.
			return Generate(rng)
		}
	}

	// (c) for each column, draw `count` distinct numbers from its range and
	// assign them in ascending order to the rows that selected it.
	var t model.Ticket
	for c := 0; c < 9; c++ {
		count := colCount[c]
		if count == 0 {
			continue
		}
		lo, hi := columnRange(c)
		nums := distinctInRange(rng, lo, hi, count)

		rowsWithCol := make([]int, 0, count)
		for row := 0; row < 3; row++ {
			if rowColumns[row][c] {
				rowsWithCol = append(rowsWithCol, row)
			}
		}
		for i, row := range rowsWithCol {
			t[row][c] = nums[i]
		}
	}

	return t
}

// distinctInRange draws n distinct integers from [lo, hi] uniformly at
// random and returns them sorted ascending.
func distinctInRange(rng *rand.Rand, lo, hi, n int) []int {
	span := hi - lo + 1
	picked := map[int]bool{}
	out := make([]int, 0, n)
	for len(out) < n {
		v := lo + rng.Intn(span)
		if picked[v] {
			continue
		}
		picked[v] = true
		out = append(out, v)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Validate checks that t satisfies every Tambola ticket rule.
func Validate(t model.Ticket) bool {
	distinct := map[int]bool{}
	total := 0

	for row := 0; row < 3; row++ {
		rowCount := 0
		for col := 0; col < 9; col++ {
			n := t[row][col]
			if n == 0 {
				continue
			}
			rowCount++
			total++
			if distinct[n] {
				return false
			}
			distinct[n] = true

			lo, hi := columnRange(col)
			if n < lo || n > hi {
				return false
			}
		}
		if rowCount != 5 {
			return false
		}
	}

	if total != 15 {
		return false
	}

	for col := 0; col < 9; col++ {
		any := false
		for row := 0; row < 3; row++ {
			if t[row][col] != 0 {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	return true
}
