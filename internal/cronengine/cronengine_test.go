package cronengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/cronengine"
	"github.com/northcloud/crawlctl/internal/errs"
)

func TestValidate_AcceptsStandardFiveField(t *testing.T) {
	require.NoError(t, cronengine.Validate("*/5 * * * *"))
}

func TestValidate_AcceptsOptionalSecondsField(t *testing.T) {
	require.NoError(t, cronengine.Validate("30 */5 * * * *"))
}

func TestValidate_AcceptsDescriptor(t *testing.T) {
	require.NoError(t, cronengine.Validate("@hourly"))
	require.NoError(t, cronengine.Validate("@daily"))
}

func TestValidate_RejectsMalformedShape(t *testing.T) {
	err := cronengine.Validate("not a cron expression at all!!")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestValidate_RejectsOutOfRangeField(t *testing.T) {
	err := cronengine.Validate("99 * * * *")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestNextRun_ComputesNextUTCInstant(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, dst, err := cronengine.NextRun("0 12 * * *", base, "UTC")
	require.NoError(t, err)
	assert.Equal(t, cronengine.NoDSTTransition, dst)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestNextRun_UnknownTimezone(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := cronengine.NextRun("0 12 * * *", base, "Mars/Olympus_Mons")
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestNextRun_SpringForwardAdvisory(t *testing.T) {
	// US Eastern springs forward 2026-03-08 02:00 -> 03:00.
	base := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	next, dst, err := cronengine.NextRun("30 2 8 3 *", base, "America/New_York")
	require.NoError(t, err)
	// robfig/cron rolls 2:30 forward past the spring-forward gap; the
	// resulting wall clock lands at an increased UTC offset.
	assert.Equal(t, cronengine.SpringForwardGap, dst)
	assert.True(t, next.After(base))
}

func TestNextRun_NoTransitionOnOrdinaryDay(t *testing.T) {
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	next, dst, err := cronengine.NextRun("30 1 * * *", base, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, cronengine.NoDSTTransition, dst)
	assert.True(t, next.After(base))
}
