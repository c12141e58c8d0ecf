package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var statusByKind = map[Kind]int{
	KindNotFound:               http.StatusNotFound,
	KindAlreadyExists:          http.StatusConflict,
	KindInvalidVisitType:       http.StatusUnprocessableEntity,
	KindPreconditionFailed:     http.StatusPreconditionFailed,
	KindInvalidPayment:         http.StatusUnprocessableEntity,
	KindOverPayment:            http.StatusConflict,
	KindInvalidTransition:      http.StatusConflict,
	KindConcurrentModification: http.StatusConflict,
	KindRecordLocked:           http.StatusLocked,
	KindForbidden:              http.StatusForbidden,
	KindInvalidInput:           http.StatusBadRequest,
	KindInternal:               http.StatusInternalServerError,
}

// HTTPStatus maps a Kind to its response status code.
func HTTPStatus(kind Kind) int {
	if code, ok := statusByKind[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Body is the JSON error envelope returned to clients.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ErrorHandler returns an echo.HTTPErrorHandler that renders *Error values
// with their kind and falls back to echo's own HTTPError codes.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code int
			body Body
		)
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			code = he.Code
			body = Body{Kind: kindForStatus(he.Code)}
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			} else {
				body.Message = http.StatusText(he.Code)
			}
		default:
			kind := KindOf(err)
			code = HTTPStatus(kind)
			body = Body{Kind: kind, Message: Message(err)}
		}

		if code >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalidInput
	}
	if code >= http.StatusInternalServerError {
		return KindInternal
	}
	return KindInvalidInput
}
