package models

// Strategy is the execution plan chosen per claim.
type Strategy string

const (
	StrategyFastTrack  Strategy = "fast_track"
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
)

// Strategies lists every known strategy in evaluation order.
func Strategies() []Strategy {
	return []Strategy{StrategySequential, StrategyFastTrack, StrategyParallel}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFastTrack, StrategyParallel, StrategySequential:
		return true
	default:
		return false
	}
}

// Concurrent reports whether independent stages may run at the same time.
func (s Strategy) Concurrent() bool {
	switch s {
	case StrategyParallel:
		return true
	case StrategyFastTrack, StrategySequential:
		return false
	default:
		return false
	}
}

// Speculative reports whether stages may start on provisional inputs and be reconciled later.
func (s Strategy) Speculative() bool {
	return s == StrategyParallel
}
