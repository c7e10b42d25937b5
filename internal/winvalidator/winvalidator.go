// Package winvalidator implements the pure win-condition check shared
// by every claimWin call. It reads nothing beyond its arguments and has
// no side effects.
package winvalidator

import "github.com/tambola-live/engine/internal/model"

// CalledSet is a lookup of which numbers have been called so far.
type CalledSet map[int]bool

// NewCalledSet builds a CalledSet from an ordered slice of called numbers.
func NewCalledSet(calledNumbers []int) CalledSet {
	s := make(CalledSet, len(calledNumbers))
	for _, n := range calledNumbers {
		s[n] = true
	}
	return s
}

const early5Threshold = 5

// Validate reports whether ticket satisfies category given the numbers
// called so far.
func Validate(t model.Ticket, called CalledSet, category model.Category) bool {
	switch category {
	case model.CategoryEarly5:
		count := 0
		for _, n := range t.NonZero() {
			if called[n] {
				count++
				if count >= early5Threshold {
					return true
				}
			}
		}
		return false

	case model.CategoryTopLine:
		return allCalled(t.Row(0), called)

	case model.CategoryMiddleLine:
		return allCalled(t.Row(1), called)

	case model.CategoryBottomLine:
		return allCalled(t.Row(2), called)

	case model.CategoryFullHouse:
		return allCalled(t.NonZero(), called)

	default:
		return false
	}
}

func allCalled(numbers []int, called CalledSet) bool {
	if len(numbers) == 0 {
		return false
	}
	for _, n := range numbers {
		if !called[n] {
			return false
		}
	}
	return true
}
