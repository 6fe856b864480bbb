package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_WithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Validation("validate call failed", cause)

	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestError_WithoutCause(t *testing.T) {
	err := Unauthorized("token rejected")

	assert.Equal(t, "unauthorized: token rejected", err.Error())
	assert.Nil(t, stderrors.Unwrap(err))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("subscribe: %w", Unauthorized("401 from helix"))

	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.True(t, IsUnauthorized(err))
}

func TestKindOf_PlainError(t *testing.T) {
	err := fmt.Errorf("read tcp: connection reset")

	assert.Equal(t, Kind(""), KindOf(err))
	assert.False(t, IsUnauthorized(err))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(StateMismatch("state does not match")))
	assert.True(t, IsFatal(Authentication("refresh and authorize failed", nil)))
	assert.False(t, IsFatal(Unauthorized("401")))
	assert.False(t, IsFatal(Subscription("subscribe rejected")))
	assert.False(t, IsFatal(fmt.Errorf("plain")))
}

func TestIsKind(t *testing.T) {
	err := Subscription("status 400")

	assert.True(t, IsKind(err, KindSubscription))
	assert.False(t, IsKind(err, KindUnauthorized))
}
