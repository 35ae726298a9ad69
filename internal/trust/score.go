// Package trust computes a point-in-time 0–100 trustworthiness score for
// a message from static relationship signals. The score is additive rule
// weights, not a model: each factor contributes a fixed amount, missing
// knowledge contributes nothing (worst case), floor 0 and ceiling 100.
package trust

import "github.com/ppiankov/mailwarden/internal/model"

// Rule weights. A factor that cannot be confirmed favorable scores zero.
const (
	WeightKnownSender     = 30
	WeightPriorHistory    = 20
	WeightNoPatternMatch  = 20
	WeightSafeLinks       = 15
	WeightSafeAttachments = 15
)

// Score thresholds.
const (
	ThresholdNormal     = 80 // >= normal handling
	ThresholdQuarantine = 49 // <= quarantined, human approval mandatory
)

// Level buckets a score into its handling band.
type Level string

const (
	Normal     Level = "normal"
	Caution    Level = "caution"
	Quarantine Level = "quarantine"
)

// Score computes the message-level trust score from static metadata.
// Monotonic: adding a risk factor to otherwise-identical metadata never
// increases the result.
func Score(meta model.MessageMeta) int {
	score := 0

	if meta.KnownSender {
		score += WeightKnownSender
	}
	if meta.PriorThreads > 0 {
		score += WeightPriorHistory
	}
	if meta.PatternMatches == 0 {
		score += WeightNoPatternMatch
	}
	// No links at all is as safe as vetted links.
	if !meta.HasLinks || meta.SafeLinks {
		score += WeightSafeLinks
	}
	if !meta.HasAttachments || meta.SafeAttachments {
		score += WeightSafeAttachments
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// LevelFor buckets a score: >=80 normal, 50–79 caution, <=49 quarantine.
func LevelFor(score int) Level {
	switch {
	case score >= ThresholdNormal:
		return Normal
	case score > ThresholdQuarantine:
		return Caution
	default:
		return Quarantine
	}
}

// ThreadScore is the arithmetic mean of all message-level scores in a
// thread, recomputed on each new inbound message. An empty history is
// worst case: zero.
func ThreadScore(scores []int) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return sum / len(scores)
}
