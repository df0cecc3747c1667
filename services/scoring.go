package services

// basePoints is the prize ladder, indexed by level-1.
var basePoints = []int{
	100, 200, 300, 500, 1000,
	2000, 4000, 8000, 16000, 32000,
	64000, 125000, 250000, 500000, 1000000,
}

// MaxLevel is the highest level on the prize ladder.
const MaxLevel = 15

// BasePoints returns the ladder value for level. Unknown levels are worth 100.
func BasePoints(level int) int {
	if level < 1 || level > len(basePoints) {
		return basePoints[0]
	}
	return basePoints[level-1]
}

// ComputePoints scores one answer. Wrong answers cost a quarter of the level's
// base. Correct answers earn the base plus up to 50% for speed, minus 30% when
// a lifeline helped.
func ComputePoints(level, elapsedMs, maxMs int, isCorrect, lifelineActive bool) int {
	base := BasePoints(level)
	if !isCorrect {
		return -(base / 4)
	}

	points := base + timeBonus(base, elapsedMs, maxMs)
	if lifelineActive {
		points -= base * 3 / 10
	}
	return points
}

// timeBonus is base * 0.5 * (1 - elapsed/max), rounded to the nearest point.
func timeBonus(base, elapsedMs, maxMs int) int {
	if maxMs <= 0 || elapsedMs >= maxMs {
		return 0
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	remaining := int64(maxMs - elapsedMs)
	return int((int64(base)*remaining + int64(maxMs)) / (2 * int64(maxMs)))
}
