package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/medidash/internal/platform/correlation"
	apperrors "github.com/pscheid92/medidash/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMiddlewareWithStructuredError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.ValidationError("invalid input")
	})

	err := handler(c)
	require.NoError(t, err) // ErrorHandlingMiddleware handles the error, doesn't return it

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestMiddlewareWithStandardError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return errors.New("standard error")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareWithNoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareWithContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.NotFoundError("user not found").
			WithField("user_id", "123").
			WithField("route", "presence")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user not found", resp.Error)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
	assert.Len(t, resp.Context, 2)
	assert.Equal(t, "123", resp.Context["user_id"])
	assert.Equal(t, "presence", resp.Context["route"])
}

func TestMiddlewareAllErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        *apperrors.Error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{
			name:       "validation",
			err:        apperrors.ValidationError("invalid"),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
		},
		{
			name:       "not_found",
			err:        apperrors.NotFoundError("missing"),
			wantStatus: http.StatusNotFound,
			wantType:   apperrors.TypeNotFound,
		},
		{
			name:       "unauthorized",
			err:        apperrors.UnauthorizedError("bad key"),
			wantStatus: http.StatusUnauthorized,
			wantType:   apperrors.TypeUnauthorized,
		},
		{
			name:       "rate_limited",
			err:        apperrors.RateLimitedError("slow down"),
			wantStatus: http.StatusTooManyRequests,
			wantType:   apperrors.TypeRateLimited,
		},
		{
			name:       "unavailable",
			err:        apperrors.UnavailableError("at capacity"),
			wantStatus: http.StatusServiceUnavailable,
			wantType:   apperrors.TypeUnavailable,
		},
		{
			name:       "internal",
			err:        apperrors.InternalError("failed", errors.New("cause")),
			wantStatus: http.StatusInternalServerError,
			wantType:   apperrors.TypeInternal,
		},
		{
			name:       "external",
			err:        apperrors.ExternalError("api failed", errors.New("timeout")),
			wantStatus: http.StatusBadGateway,
			wantType:   apperrors.TypeExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
				return tt.err
			})

			err := handler(c)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
		})
	}
}

func TestHandleError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleError(c, apperrors.ValidationError("test"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestHandleErrorWithNil(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleError(c, nil)
	assert.NoError(t, err)
}

func TestHandleValidationError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleValidationError(c, "invalid input")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestHandleNotFoundError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleNotFoundError(c, "user not found")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user not found", resp.Error)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
}

func TestHandleInternalError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cause := errors.New("db error")
	err := HandleInternalError(c, "failed to save", cause)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed to save", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		httpErr    *echo.HTTPError
		wantType   apperrors.ErrorType
		wantStatus int
	}{
		{
			name:       "bad_request",
			httpErr:    echo.NewHTTPError(http.StatusBadRequest, "bad request"),
			wantType:   apperrors.TypeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not_found",
			httpErr:    echo.NewHTTPError(http.StatusNotFound, "not found"),
			wantType:   apperrors.TypeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unauthorized",
			httpErr:    echo.NewHTTPError(http.StatusUnauthorized, "unauthorized"),
			wantType:   apperrors.TypeUnauthorized,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "too_many_requests",
			httpErr:    echo.NewHTTPError(http.StatusTooManyRequests, "slow down"),
			wantType:   apperrors.TypeRateLimited,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "body_too_large",
			httpErr:    echo.ErrStatusRequestEntityTooLarge,
			wantType:   apperrors.TypeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad_gateway",
			httpErr:    echo.NewHTTPError(http.StatusBadGateway, "bad gateway"),
			wantType:   apperrors.TypeExternal,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "service_unavailable",
			httpErr:    echo.NewHTTPError(http.StatusServiceUnavailable, "unavailable"),
			wantType:   apperrors.TypeUnavailable,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "internal_server_error",
			httpErr:    echo.NewHTTPError(http.StatusInternalServerError, "internal error"),
			wantType:   apperrors.TypeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapHTTPError(tt.httpErr)

			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}

func TestWrapHTTPErrorWithInternalCause(t *testing.T) {
	cause := errors.New("underlying cause")
	httpErr := echo.NewHTTPError(http.StatusInternalServerError, "wrapped")
	httpErr.Internal = cause

	err := WrapHTTPError(httpErr)

	assert.Equal(t, apperrors.TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
}

func TestWrapHTTPErrorWithNonStringMessage(t *testing.T) {
	httpErr := echo.NewHTTPError(http.StatusBadRequest, 12345)

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "internal server error", err.Message) // Fallback message
	assert.Equal(t, apperrors.TypeValidation, err.Type)
}

func TestWrapHTTPErrorWithNilMessage(t *testing.T) {
	httpErr := &echo.HTTPError{
		Code:    http.StatusBadRequest,
		Message: nil,
	}

	err := WrapHTTPError(httpErr)

	assert.Equal(t, "internal server error", err.Message) // Fallback message
	assert.Equal(t, apperrors.TypeValidation, err.Type)
}

func TestMiddlewarePassesHTTPErrorThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return echo.ErrNotFound
	})

	err := handler(c)
	assert.ErrorIs(t, err, echo.ErrNotFound)
}

func TestCorrelationMiddleware(t *testing.T) {
	e := echo.New()

	var seen string
	handler := correlationMiddleware(func(c echo.Context) error {
		seen, _ = correlation.ID(c.Request().Context())
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(correlation.Header, "upstream-7")
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, "upstream-7", seen)
	assert.Equal(t, "upstream-7", rec.Header().Get(correlation.Header))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Len(t, seen, 8)
}

func TestTracingMiddleware_ContinuesInboundTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	e := echo.New()
	var spanCtx trace.SpanContext
	e.GET("/traced", func(c echo.Context) error {
		spanCtx = trace.SpanContextFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}, tracingMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/traced", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spanCtx.TraceID().String())
}
