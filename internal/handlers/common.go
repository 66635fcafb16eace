// Package handlers contains the HTTP handlers for the public API. Each
// handler is a struct with a Register method that wires its routes onto the
// echo instance.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/inbox"
)

// ErrorResponse is the JSON body of an error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}

const tenantHeader = "X-Tenant-ID"

// requireTenantID extracts the tenant from the request header. Tenant
// authentication happens upstream; by the time a request reaches this
// service the header is trusted.
func requireTenantID(c echo.Context) (string, error) {
	tenantID := strings.TrimSpace(c.Request().Header.Get(tenantHeader))
	if tenantID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, tenantHeader+" header is required")
	}
	return tenantID, nil
}

// httpError maps domain sentinel errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, channel.ErrChannelConfigNotFound),
		errors.Is(err, inbox.ErrConversationNotFound),
		errors.Is(err, inbox.ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, inbox.ErrAlreadyLinked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, channel.ErrNotImplemented):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, channel.ErrProviderRejected):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, channel.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

const maxWebhookBody = 1 << 20

func readBody(c echo.Context) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("request body is empty")
	}
	return raw, nil
}
