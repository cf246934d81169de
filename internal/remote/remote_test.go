package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailable_WrapsBoth(t *testing.T) {
	err := Unavailable("upsert", context.DeadlineExceeded)

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "upsert: remote unavailable: context deadline exceeded", err.Error())
}

func TestRejectedError(t *testing.T) {
	cause := errors.New("permission denied")
	err := error(&RejectedError{Op: "set_field", Reason: "write refused", Err: cause})

	assert.Equal(t, "remote rejected set_field: write refused: permission denied", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrUnavailable))

	var re *RejectedError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, "set_field", re.Op)

	bare := &RejectedError{Op: "delete", Reason: "bad id"}
	assert.Equal(t, "remote rejected delete: bad id", bare.Error())
}
