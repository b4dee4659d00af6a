package apierror_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vicinitymaps/go-vicinity/apierror"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := apierror.New(errors.New("tile unavailable"), http.StatusServiceUnavailable)
	decoded := apierror.DecodeError(apierror.EncodeError(original))

	var apierr *apierror.Error
	require.ErrorAs(t, decoded, &apierr)
	require.Equal(t, original.Status(), apierr.Status())
	require.Equal(t, original.Error(), apierr.Error())

	require.Nil(t, apierror.DecodeError(apierror.EncodeError(nil)))
}

func TestFromResponse(t *testing.T) {
	err := apierror.FromResponse(http.StatusNotFound, []byte("no such tile\n"))
	var apierr *apierror.Error
	require.ErrorAs(t, err, &apierr)
	require.Equal(t, http.StatusNotFound, apierr.Status())
	require.Equal(t, "no such tile", apierr.Error())

	// An empty body falls back to the standard status text.
	err = apierror.FromResponse(http.StatusTooManyRequests, nil)
	require.ErrorAs(t, err, &apierr)
	require.Equal(t, "429 Too Many Requests", apierr.Error())
}
