// Package cronengine implements C5: cron expression validation and
// next-fire-time computation with DST transition advisories.
package cronengine

import (
	"regexp"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/northcloud/crawlctl/internal/errs"
)

// parser accepts standard 5-field cron, an optional leading seconds
// field, and the extended mnemonics (@yearly, @monthly, ...).
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// fastShape is a quick regex reject for obviously malformed input
// before handing the expression to the full semantic parser, matching
// the spec's "validates both format (fast regex) and semantics
// (parser)".
var fastShape = regexp.MustCompile(`^(@\w+|[\d*/,\-?LWA-Za-z]+(\s+[\d*/,\-?LWA-Za-z]+){3,5})$`)

// DSTTransition names the wall-clock anomaly a computed fire time fell
// into, if any.
type DSTTransition string

const (
	NoDSTTransition  DSTTransition = ""
	SpringForwardGap DSTTransition = "spring_forward"
	FallBackRepeat   DSTTransition = "fall_back"
)

// Validate checks an expression's format and semantics, returning a
// VALIDATION_ERROR *errs.Error on failure.
func Validate(expr string) error {
	if !fastShape.MatchString(expr) {
		return errs.New(errs.KindValidation, "CRON_SHAPE", "cron expression has an invalid shape")
	}
	if _, err := parser.Parse(expr); err != nil {
		return errs.Wrap(errs.KindValidation, "CRON_PARSE", "cron expression failed to parse", err)
	}
	return nil
}

// NextRun computes the next fire instant after baseTime for expr,
// interpreted in tz (defaults to "UTC" when empty; naive base times
// are assumed UTC). The result is always a UTC instant. dst reports a
// spring-forward-gap or fall-back-repeat advisory when the computed
// wall-clock instant fell in one.
func NextRun(expr string, baseTime time.Time, tz string) (next time.Time, dst DSTTransition, err error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, locErr := time.LoadLocation(tz)
	if locErr != nil {
		return time.Time{}, NoDSTTransition, errs.Wrap(errs.KindValidation, "UNKNOWN_TZ", "timezone is not a recognized IANA zone", locErr)
	}

	if err := Validate(expr); err != nil {
		return time.Time{}, NoDSTTransition, err
	}
	schedule, parseErr := parser.Parse(expr)
	if parseErr != nil {
		return time.Time{}, NoDSTTransition, errs.Wrap(errs.KindValidation, "CRON_PARSE", "cron expression failed to parse", parseErr)
	}

	if baseTime.Location() == time.UTC && baseTime.IsZero() {
		baseTime = time.Now().UTC()
	}
	baseInTZ := baseTime.In(loc)

	nextInTZ := schedule.Next(baseInTZ)
	dst = detectDSTTransition(nextInTZ)

	return nextInTZ.UTC(), dst, nil
}

// detectDSTTransition compares the UTC offset in effect one hour
// before wallClock against the offset at wallClock itself: storage is
// always UTC, so this never changes whether the fire happens, only
// whether an operator-facing advisory accompanies it.
func detectDSTTransition(wallClock time.Time) DSTTransition {
	before := wallClock.Add(-1 * time.Hour)
	_, beforeOffset := before.Zone()
	_, atOffset := wallClock.Zone()

	switch {
	case atOffset > beforeOffset:
		return SpringForwardGap
	case atOffset < beforeOffset:
		return FallBackRepeat
	default:
		return NoDSTTransition
	}
}
