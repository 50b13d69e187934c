package optimizer

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindTransform, Message: genericMessage, Err: cause})

	assert.ErrorIs(t, err, ErrTransform)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInternal)
}

func TestKind_StatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindBadRequest.StatusCode())
	assert.Equal(t, http.StatusBadRequest, KindUpstreamFetch.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, KindTransform.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.StatusCode())
}

func TestAsError(t *testing.T) {
	pe := AsError(errors.New("disk on fire"))
	assert.Equal(t, KindInternal, pe.Kind)
	assert.Equal(t, "Error optimizing image", pe.Message)
	assert.NotContains(t, pe.Message, "disk on fire")

	orig := &Error{Kind: KindBadRequest, Message: "Missing src parameter"}
	assert.Same(t, orig, AsError(orig))
}
