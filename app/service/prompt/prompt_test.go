package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemSubstitutesAllPlaceholders(t *testing.T) {
	now := time.Date(2026, 1, 29, 14, 30, 0, 0, time.UTC)

	got := System("alice", now)

	assert.Contains(t, got, "alice")
	assert.Contains(t, got, "2026-01-29")
	assert.Contains(t, got, "Thursday")
	assert.Contains(t, got, "2:30 PM")
	assert.NotContains(t, got, "{user_id}")
	assert.NotContains(t, got, "{current_date}")
	assert.NotContains(t, got, "{day_of_week}")
	assert.NotContains(t, got, "{year}")
}

func TestSystemNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("", 5*3600+30*60)
	local := time.Date(2026, 1, 30, 1, 0, 0, 0, loc)

	got := System("alice", local)

	// 01:00 at +05:30 is still the previous day in UTC.
	assert.Contains(t, got, "2026-01-29")
	assert.True(t, strings.Contains(got, "19:30:00 UTC"))
}
