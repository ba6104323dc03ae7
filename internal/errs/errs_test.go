package errs_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/errs"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "validation", errs.KindValidation.String())
	assert.Equal(t, "client", errs.KindClient.String())
	assert.Equal(t, "transient", errs.KindTransient.String())
	assert.Equal(t, "infrastructure", errs.KindInfrastructure.String())
	assert.Equal(t, "internal", errs.KindInternal.String())
}

func TestNew_FormatsWithoutCause(t *testing.T) {
	e := errs.New(errs.KindValidation, "CRON_INVALID", "malformed cron expression")
	assert.Contains(t, e.Error(), "CRON_INVALID")
	assert.Contains(t, e.Error(), "malformed cron expression")
	assert.Nil(t, e.Unwrap())
}

func TestWrap_FormatsWithCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := errs.Wrap(errs.KindTransient, "FETCH_FAILED", "seed fetch", cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection refused")
}

func TestAs_UnwrapsThroughFmtErrorf(t *testing.T) {
	base := errs.New(errs.KindClient, "BAD_INPUT", "bad")
	wrapped := fmt.Errorf("handler: %w", base)

	e, ok := errs.As(wrapped)
	require.True(t, ok)
	assert.Equal(t, errs.KindClient, e.Kind)
}

func TestAs_NonMatchingError(t *testing.T) {
	_, ok := errs.As(errors.New("plain error"))
	assert.False(t, ok)
}

func TestKindOf_DefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, errs.KindInternal, errs.KindOf(errors.New("plain")))
}

func TestKindOf_ExtractsWrappedKind(t *testing.T) {
	e := errs.New(errs.KindInfrastructure, "DB_DOWN", "postgres unreachable")
	wrapped := fmt.Errorf("store: %w", e)
	assert.Equal(t, errs.KindInfrastructure, errs.KindOf(wrapped))
}

func TestParseHTTPError_BelowErrorThreshold_ReturnsNil(t *testing.T) {
	resp := &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil))}
	assert.NoError(t, errs.ParseHTTPError(resp))
}

func TestParseHTTPError_SimpleJSONMessage(t *testing.T) {
	body := `{"message":"rate limited"}`
	resp := &http.Response{StatusCode: 429, Status: "429 Too Many Requests", Body: io.NopCloser(bytes.NewReader([]byte(body)))}

	err := errs.ParseHTTPError(resp)
	require.Error(t, err)
	assert.True(t, errs.IsHTTPError(err))

	code, ok := errs.GetHTTPStatusCode(err)
	require.True(t, ok)
	assert.Equal(t, 429, code)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestParseHTTPError_NonJSONBody_FallsBackToBody(t *testing.T) {
	resp := &http.Response{StatusCode: 500, Status: "500 Internal Server Error", Body: io.NopCloser(bytes.NewReader([]byte("boom")))}

	err := errs.ParseHTTPError(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsHTTPError_FalseForOtherErrors(t *testing.T) {
	assert.False(t, errs.IsHTTPError(errors.New("not an http error")))
}

func TestGetHTTPStatusCode_FalseForOtherErrors(t *testing.T) {
	_, ok := errs.GetHTTPStatusCode(errors.New("not an http error"))
	assert.False(t, ok)
}

func TestWrapWithContext_NilPassesThrough(t *testing.T) {
	assert.NoError(t, errs.WrapWithContext(nil, "ctx"))
}

func TestWrapWithContext_PrependsContext(t *testing.T) {
	err := errs.WrapWithContext(errors.New("boom"), "scheduler tick")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler tick")
	assert.Contains(t, err.Error(), "boom")
}

func TestWrapWithContextf_FormatsContext(t *testing.T) {
	err := errs.WrapWithContextf(errors.New("boom"), "job %d failed", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 7 failed")
}

func TestWrapHTTPError_NilPassesThrough(t *testing.T) {
	assert.NoError(t, errs.WrapHTTPError(nil, "ctx"))
}
