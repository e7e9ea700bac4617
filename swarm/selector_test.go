package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectReturnsAllWhenUnderBudget(t *testing.T) {
	s := NewSelector()
	out := s.Select([]PeerKey{"a", "b"}, 5)
	assert.ElementsMatch(t, []PeerKey{"a", "b"}, out)
}

func TestSelectPrefersHigherThroughputPeer(t *testing.T) {
	s := NewSelector()
	s.RecordThroughput("fast", 1_000_000)
	s.RecordVerification("fast", true)
	s.RecordThroughput("slow", 1000)
	s.RecordVerification("slow", true)

	out := s.Select([]PeerKey{"fast", "slow"}, 1)
	require.Len(t, out, 1)
	assert.Equal(t, PeerKey("fast"), out[0])
}

func TestBlacklistExcludesUnreliablePeers(t *testing.T) {
	s := NewSelector()
	for i := 0; i < 11; i++ {
		s.RecordVerification("bad", false)
	}
	assert.True(t, s.Blacklisted("bad"))

	out := s.Select([]PeerKey{"bad", "good"}, 5)
	assert.NotContains(t, out, PeerKey("bad"))
}

func TestBlacklistRequiresLowReliabilityNotJustFailures(t *testing.T) {
	s := NewSelector()
	for i := 0; i < 15; i++ {
		s.RecordVerification("recovered", false)
	}
	for i := 0; i < 15; i++ {
		s.RecordVerification("recovered", true)
	}
	// failure count alone exceeds the threshold, but reliability never
	// fell below the ceiling (about 0.46 at its lowest, about 0.75 at the
	// end), so it must not be blacklisted.
	assert.False(t, s.Blacklisted("recovered"))
}
