package reputation

// Standing is a display tier for a reputation score.
type Standing struct {
	Label    string
	Eligible bool // may be offered a seat in a new circle
}

// Tiers maps minimum scores to standings, highest first.
var Tiers = []struct {
	MinScore int64
	Standing Standing
}{
	{20, Standing{Label: "Exemplary", Eligible: true}},
	{12, Standing{Label: "Reliable", Eligible: true}},
	{8, Standing{Label: "Steady", Eligible: true}},
	{4, Standing{Label: "At risk", Eligible: true}},
	{1, Standing{Label: "Delinquent", Eligible: false}},
}

// DefaultStanding is the tier for scores below every threshold.
var DefaultStanding = Standing{Label: "Suspended", Eligible: false}

// StandingFor maps a score to its Standing.
func StandingFor(score int64) Standing {
	for _, t := range Tiers {
		if score >= t.MinScore {
			return t.Standing
		}
	}
	return DefaultStanding
}

// Reward raises a score by amount.
func Reward(score, amount int64) int64 {
	if amount <= 0 {
		return score
	}
	return score + amount
}

// Penalize lowers a score by amount without going below floor.
// A negative floor is treated as zero.
func Penalize(score, amount, floor int64) int64 {
	if floor < 0 {
		floor = 0
	}
	if amount < 0 {
		amount = 0
	}
	next := score - amount
	if next < floor {
		return floor
	}
	return next
}

// Fine returns bps basis points of deposit, rounded down.
func Fine(deposit, bps int64) int64 {
	if deposit <= 0 || bps <= 0 {
		return 0
	}
	// Split the deposit so deposit*bps cannot overflow.
	return deposit/10_000*bps + deposit%10_000*bps/10_000
}
