package oee

// Performance compares the actual production rate while running to the
// target rate. The percentage is not capped; callers decide.
type Performance struct {
	totalPieces         int64
	runTimeMinutes      float64
	targetRatePerMinute float64
}

func NewPerformance(totalPieces int64, runTimeMinutes, targetRatePerMinute float64) (Performance, error) {
	if totalPieces < 0 {
		return Performance{}, negative("total pieces produced")
	}
	if runTimeMinutes < 0 {
		return Performance{}, negative("run time")
	}
	if targetRatePerMinute < 0 {
		return Performance{}, negative("target rate")
	}

	return Performance{
		totalPieces:         totalPieces,
		runTimeMinutes:      runTimeMinutes,
		targetRatePerMinute: targetRatePerMinute,
	}, nil
}

func (p Performance) TotalPieces() int64           { return p.totalPieces }
func (p Performance) RunTimeMinutes() float64      { return p.runTimeMinutes }
func (p Performance) TargetRatePerMinute() float64 { return p.targetRatePerMinute }

// ActualRate is pieces per minute of run time.
func (p Performance) ActualRate() float64 {
	if p.runTimeMinutes == 0 {
		return 0
	}
	return float64(p.totalPieces) / p.runTimeMinutes
}

func (p Performance) Percentage() float64 {
	if p.targetRatePerMinute == 0 {
		return 0
	}
	return p.ActualRate() / p.targetRatePerMinute * 100
}

// Capped returns the percentage limited to limit.
func (p Performance) Capped(limit float64) float64 {
	pct := p.Percentage()
	if pct > limit {
		return limit
	}
	return pct
}

func (p Performance) MeetsTarget(threshold float64) bool {
	return meetsTarget(p.Percentage(), threshold)
}

func (p Performance) IsConstrainingFactor(otherA, otherB float64) bool {
	return isConstraining(p.Percentage(), otherA, otherB)
}
