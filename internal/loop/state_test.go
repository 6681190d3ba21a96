package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	for _, n := range []int{0, -1} {
		assert.Equal(t, DefaultMaxIterations, New(n).MaxIterations)
	}
	assert.Equal(t, 5, New(5).MaxIterations)
}

func TestAdvance_Bound(t *testing.T) {
	s := New(3)
	assert.True(t, s.CanContinue())
	assert.True(t, s.Advance())
	assert.True(t, s.Advance())
	assert.False(t, s.Advance())
	assert.False(t, s.CanContinue())
	assert.Equal(t, 3, s.Iteration)
}

func TestCanContinue_ExactlyAtBound(t *testing.T) {
	for max := 1; max <= 5; max++ {
		s := New(max)
		for s.Iteration < 10 {
			assert.Equal(t, s.Iteration < max, s.CanContinue(), "iteration %d max %d", s.Iteration, max)
			s.Advance()
		}
	}
}

func TestRegisterGuidance(t *testing.T) {
	s := New(0)

	assert.False(t, s.RegisterGuidance(""))
	assert.False(t, s.RegisterGuidance("   "))
	assert.Empty(t, s.CurrentGuidance)

	assert.True(t, s.RegisterGuidance("X"))
	assert.False(t, s.RegisterGuidance("X"))
	assert.False(t, s.RegisterGuidance("  X \n"))
	assert.Equal(t, "X", s.CurrentGuidance)
	assert.True(t, s.HasSeenGuidance(" X"))

	assert.True(t, s.RegisterGuidance("Y"))
	assert.Equal(t, "Y", s.CurrentGuidance)
	assert.False(t, s.HasSeenGuidance("Z"))
}

func TestRegisterAnalysis(t *testing.T) {
	s := New(0)
	assert.False(t, s.RegisterAnalysis("\t"))
	assert.True(t, s.RegisterAnalysis("need file"))
	assert.False(t, s.RegisterAnalysis("need file  "))
	assert.Equal(t, "need file", s.CurrentAnalysis)
	assert.False(t, s.HasSeenGuidance("need file"))
}

func TestRegister_ZeroValueState(t *testing.T) {
	var s State
	assert.True(t, s.RegisterGuidance("g"))
	assert.False(t, s.RegisterGuidance("g"))
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := New(3)
	s.RecordAttempt("first")
	s.RegisterGuidance("g")
	s.Advance()

	snap := s.Snapshot()
	s.RecordAttempt("second")

	assert.Equal(t, []string{"first"}, snap.Attempts)
	assert.Equal(t, 1, snap.Iteration)
	assert.Equal(t, "g", snap.CurrentGuidance)
	assert.Len(t, s.Attempts, 2)
}
