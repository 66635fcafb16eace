package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/inbox"
)

func TestRequireTenantID(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(tenantHeader, "  tenant-1  ")
	c := e.NewContext(req, httptest.NewRecorder())

	tenantID, err := requireTenantID(c)
	assert.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	_, err = requireTenantID(c)

	var httpErr *echo.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{channel.ErrChannelConfigNotFound, http.StatusNotFound},
		{inbox.ErrConversationNotFound, http.StatusNotFound},
		{inbox.ErrMessageNotFound, http.StatusNotFound},
		{inbox.ErrAlreadyLinked, http.StatusConflict},
		{channel.ErrNotImplemented, http.StatusNotImplemented},
		{channel.ErrProviderRejected, http.StatusBadGateway},
		{channel.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		var httpErr *echo.HTTPError
		assert.ErrorAs(t, httpError(tc.err), &httpErr, tc.err.Error())
		assert.Equal(t, tc.code, httpErr.Code, tc.err.Error())
	}
}

func TestReadBody(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
	c := e.NewContext(req, httptest.NewRecorder())
	raw, err := readBody(c)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	c = e.NewContext(req, httptest.NewRecorder())
	_, err = readBody(c)
	assert.Error(t, err)
}
