package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	serrors "go.pilab.hu/standhub/errors"
	"github.com/stretchr/testify/assert"
)

func TestAPIError_IsUnauthorized(t *testing.T) {
	err := fmt.Errorf("balance: %w", serrors.NewAPIError(http.StatusUnauthorized, "jwt expired"))
	assert.True(t, serrors.IsUnauthorized(err))
	assert.True(t, errors.Is(err, serrors.ErrUnauthorized))

	other := serrors.NewAPIError(http.StatusNotFound, "")
	assert.False(t, serrors.IsUnauthorized(other))
	assert.Equal(t, "http 404: Not Found", other.Error())
}

func TestAPIError_AsExtractsStatus(t *testing.T) {
	err := fmt.Errorf("commit: %w", serrors.NewAPIError(http.StatusBadGateway, "upstream"))

	var apiErr *serrors.APIError
	if assert.True(t, errors.As(err, &apiErr)) {
		assert.Equal(t, http.StatusBadGateway, apiErr.Status)
		assert.Equal(t, "http 502: upstream", apiErr.Error())
	}
}
