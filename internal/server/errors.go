package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/store"
)

// httpError maps a classified error to a status. extraction is the status
// used for model and extraction failures, which differs per endpoint.
func httpError(err error, extraction int) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrExtraction):
		code = extraction
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
