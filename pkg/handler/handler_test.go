package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/binder"
	"github.com/dmitrymomot/quotakit/pkg/handler"
)

type echoRequest struct {
	Name string `json:"name"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var body handler.JSONResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWrap_JSON(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(_ handler.Context, req echoRequest) handler.Response {
		return handler.JSON(map[string]string{"hello": req.Name}, handler.WithJSONStatus(http.StatusCreated), handler.WithJSONHeader("X-Test", "1"))
	}, handler.WithBinders[echoRequest](binder.JSON()))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	body := decode(t, rec)
	assert.Equal(t, map[string]any{"hello": "ada"}, body.Data)
	assert.Nil(t, body.Error)
}

func TestWrap_BindError(t *testing.T) {
	t.Parallel()

	called := false
	h := handler.Wrap(func(handler.Context, echoRequest) handler.Response {
		called = true
		return handler.Empty()
	},
		handler.WithBinders[echoRequest](binder.JSON()),
		handler.WithErrorHandler[echoRequest](handler.NewErrorHandler(nil, func(err error) (handler.HTTPError, bool) {
			if errors.Is(err, binder.ErrFailedToParseJSON) {
				return handler.ErrBadRequest, true
			}
			return handler.HTTPError{}, false
		})),
	)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "bad_request", body.Error.Code)
}

func TestWrap_NilResponse(t *testing.T) {
	t.Parallel()

	h := handler.Wrap(func(handler.Context, struct{}) handler.Response { return nil })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "internal_error", body.Error.Code)
}

func TestWrap_Decorators(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string) handler.Decorator[struct{}] {
		return func(next handler.HandlerFunc[struct{}]) handler.HandlerFunc[struct{}] {
			return func(ctx handler.Context, req struct{}) handler.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := handler.Wrap(func(handler.Context, struct{}) handler.Response {
		order = append(order, "handler")
		return handler.EmptyWithStatus(http.StatusAccepted)
	}, handler.WithDecorators(mk("outer"), mk("inner")))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "http error", err: handler.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{name: "custom", err: handler.NewHTTPError(http.StatusPaymentRequired, "quota_exceeded"), status: http.StatusPaymentRequired, code: "quota_exceeded"},
		{name: "plain", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			require.NoError(t, handler.JSONError(tt.err).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "boom")
		})
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	ve := handler.NewValidationError()
	require.NoError(t, ve.OrNil())
	ve.Add("tier", "unknown tier")
	ve.Add("cycle", "must be monthly or yearly")
	assert.True(t, ve.Has("tier"))
	assert.Equal(t, "validation error: cycle: must be monthly or yearly, tier: unknown tier", ve.Error())

	rec := httptest.NewRecorder()
	require.NoError(t, handler.JSON(ve.OrNil()).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, []string{"unknown tier"}, body.Error.Details["tier"])
}

func TestErrorHandler_MappedKeepsMessage(t *testing.T) {
	t.Parallel()

	domainErr := errors.New("quota exceeded: 2 scans remaining, 5 required")
	eh := handler.NewErrorHandler(nil, func(err error) (handler.HTTPError, bool) {
		return handler.ErrPaymentRequired, errors.Is(err, domainErr)
	})
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	eh(handler.NewContext(rec, r), domainErr)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "payment_required", body.Error.Code)
	assert.Equal(t, domainErr.Error(), body.Error.Message)
}

func TestError_UsesErrorHandler(t *testing.T) {
	t.Parallel()

	domainErr := errors.New("too many orders")
	h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		ctx.ResponseWriter().Header().Set("Retry-After", "60")
		return handler.Error(domainErr)
	}, handler.WithErrorHandler[struct{}](handler.NewErrorHandler(nil, func(err error) (handler.HTTPError, bool) {
		return handler.ErrTooManyRequests, errors.Is(err, domainErr)
	})))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	require.NotNil(t, body.Error)
	assert.Equal(t, "too_many_requests", body.Error.Code)
	assert.Equal(t, "too many orders", body.Error.Message)
}
