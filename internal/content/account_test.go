package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationConfigValidate(t *testing.T) {
	t.Parallel()
	ok := AutomationConfig{AccountID: "x", Topics: []string{"launch"}, PostTimes: []string{"09:00"}}
	require.NoError(t, ok.Validate())

	bad := []AutomationConfig{
		{AccountID: "x", PostTimes: []string{"09:00"}},
		{AccountID: "x", Topics: []string{" "}, PostTimes: []string{"09:00"}},
		{AccountID: "x", Topics: []string{"a"}},
		{AccountID: "x", Topics: []string{"a"}, PostTimes: []string{"25:00"}},
		{AccountID: "x", Topics: []string{"a"}, PostTimes: []string{"nine"}},
	}
	for _, c := range bad {
		err := c.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfig)
	}
}

func TestMatchesSlot(t *testing.T) {
	t.Parallel()
	c := AutomationConfig{PostTimes: []string{"09:00", "18:30"}}
	assert.True(t, c.MatchesSlot(time.Date(2026, 1, 1, 9, 0, 59, 0, time.UTC)))
	assert.True(t, c.MatchesSlot(time.Date(2026, 1, 1, 18, 30, 0, 0, time.UTC)))
	assert.False(t, c.MatchesSlot(time.Date(2026, 1, 1, 9, 1, 0, 0, time.UTC)))
}
