package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/medidash/internal/platform/correlation"
	apperrors "github.com/pscheid92/medidash/internal/platform/errors"
)

const apiKeyHeader = "X-API-Key"

// correlationMiddleware reuses an inbound correlation header or mints a new id.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		c.Response().Header().Set(correlation.Header, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireAPIKey guards the service-to-service API. An unset key disables the check.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		want := s.config.NotifyAPIKey
		if want == "" {
			return next(c)
		}
		got := c.Request().Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return apperrors.UnauthorizedError("invalid API key")
		}
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeUnauthorized:
		slog.WarnContext(ctx, "Unauthorized", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Rate limited", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Service unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func HandleValidationError(c echo.Context, message string) error {
	return HandleError(c, apperrors.ValidationError(message))
}

func HandleNotFoundError(c echo.Context, message string) error {
	return HandleError(c, apperrors.NotFoundError(message))
}

func HandleInternalError(c echo.Context, message string, cause error) error {
	return HandleError(c, apperrors.InternalError(message, cause))
}

// WrapHTTPError converts an echo.HTTPError into the structured error shape.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if httpErr.Message != nil {
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		errType = apperrors.TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = apperrors.TypeUnauthorized
	case http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	case http.StatusBadGateway:
		errType = apperrors.TypeExternal
	default:
		errType = apperrors.TypeInternal
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}
