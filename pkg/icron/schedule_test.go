package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfoDaily(t *testing.T) {
	ref := time.Date(2024, 3, 10, 15, 30, 0, 0, time.Local)

	info, err := GetTriggerInfo("@daily", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.Local), info.Next)
	assert.Equal(t, info.Next.Sub(ref), info.TimeUntilNext)
}

func TestEveryRoundTrips(t *testing.T) {
	expr := Every(180 * time.Minute)
	assert.Equal(t, "@every 3h0m0s", expr)
	require.NoError(t, Validate(expr))

	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	info, err := GetTriggerInfo(expr, ref)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, info.TimeUntilNext)
}

func TestValidateRejectsGarbage(t *testing.T) {
	assert.Error(t, Validate("every day"))
	assert.Error(t, Validate("0 0 * *"))
}
