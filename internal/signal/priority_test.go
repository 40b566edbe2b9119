package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func TestPriority_AutoCopyActiveFollowerIsAlwaysHigh(t *testing.T) {
	got := Priority(true, true, domain.ConfidenceLow)
	assert.Equal(t, domain.PriorityHigh, got)
}

func TestPriority_VeryHighConfidenceIsAlwaysHigh(t *testing.T) {
	got := Priority(false, false, domain.ConfidenceVeryHigh)
	assert.Equal(t, domain.PriorityHigh, got)
}

func TestPriority_NoActiveFollowersAtAllIsLow(t *testing.T) {
	got := Priority(false, false, domain.ConfidenceMedium)
	assert.Equal(t, domain.PriorityLow, got)
}

func TestPriority_ActiveButNonAutoCopyFollowersIsMedium(t *testing.T) {
	got := Priority(true, false, domain.ConfidenceHigh)
	assert.Equal(t, domain.PriorityMedium, got)
}
