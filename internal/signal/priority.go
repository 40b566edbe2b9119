package signal

import "github.com/web3guy0/whalecopy/internal/domain"

// Priority derives dispatch priority from the whale's follower context
// rather than the signal's own content: a whale with at least one
// auto-copying active follower, or a VERY_HIGH confidence signal, jumps
// the queue; a whale with no active followers at all is processed last,
// still useful for discovery data.
func Priority(hasActiveFollower, hasAutoCopyActiveFollower bool, confidence domain.Confidence) domain.SignalPriority {
	if hasAutoCopyActiveFollower || confidence == domain.ConfidenceVeryHigh {
		return domain.PriorityHigh
	}
	if !hasActiveFollower {
		return domain.PriorityLow
	}
	return domain.PriorityMedium
}
