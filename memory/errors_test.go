package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{Op: "add", Kind: KindStorage, Err: errors.New("disk full")}
	assert.Equal(t, "memory.add: storage error: disk full", err.Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestWrapErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want Kind
	}{
		{"plain", errors.New("boom"), KindStorage, KindStorage},
		{"deadline", fmt.Errorf("embed: %w", context.DeadlineExceeded), KindEmbedding, KindTimeout},
		{"not found", fmt.Errorf("get: %w", ErrCollectionNotFound), KindStorage, KindNotFound},
		{"inner kind", fmt.Errorf("embed: %w", &Error{Op: "embed", Kind: KindAuthentication, Err: errors.New("401")}), KindEmbedding, KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapError("op", tt.kind, tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, wrapError("op", KindStorage, nil))
}

func TestKindOfForeignErrors(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestDuplicateError(t *testing.T) {
	err := &Error{Op: "add", Kind: KindMemory, Err: &DuplicateError{ExistingID: "abc", Score: 1}}
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "duplicate of memory abc")
}

func TestInvalidArgument(t *testing.T) {
	err := invalidArgument("search", "limit %d out of range", -1)
	assert.True(t, IsKind(err, KindInvalidArgument))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "limit -1 out of range")
}
