// Package dice implements the fixed dice ladder the reading queue rolls
// against. The ladder is the ordered set of standard polyhedral dice; rating
// feedback walks the current die up or down one rung at a time.
package dice

// Ladder is ordered ascending. A good rating steps the die down (shorter
// queue prefix, more focus), a bad rating steps it up (wider exploration).
var Ladder = []int{4, 6, 8, 10, 12, 20}

// Valid reports whether d is one of the ladder dice.
func Valid(d int) bool {
	for _, v := range Ladder {
		if v == d {
			return true
		}
	}
	return false
}

// StepUp returns the next larger die, saturating at the top of the ladder.
func StepUp(d int) int {
	for i, v := range Ladder {
		if v == d {
			if i == len(Ladder)-1 {
				return d
			}
			return Ladder[i+1]
		}
	}
	return d
}

// StepDown returns the next smaller die, saturating at the bottom.
func StepDown(d int) int {
	for i, v := range Ladder {
		if v == d {
			if i == 0 {
				return d
			}
			return Ladder[i-1]
		}
	}
	return d
}

// Clamp returns d if it is a ladder die, otherwise fallback.
func Clamp(d, fallback int) int {
	if Valid(d) {
		return d
	}
	return fallback
}
