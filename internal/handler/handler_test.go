package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-core/internal/middleware"
	"relay-core/internal/purse"
	"relay-core/internal/relay"
	"relay-core/pkg/errno"
	"relay-core/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Init()
}

type fakeRelayer struct {
	resp  *relay.Response
	body  relay.Body
	meta  relay.Meta
	calls int
}

func (f *fakeRelayer) Relay(_ context.Context, body relay.Body, meta relay.Meta) *relay.Response {
	f.calls++
	f.body, f.meta = body, meta
	return f.resp
}

func serve(t *testing.T, r *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func relayEngine(f *fakeRelayer) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestMeta())
	r.POST("/relay", NewRelayHandler(f).Relay)
	return r
}

const validBody = `{
	"from": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
	"to": "0x6fac4d18c912343bf86fa7049364dd4e424ab9c0",
	"txData": "0xdeadbeef",
	"nonce": "0x2",
	"signature": "0x0102",
	"proxy": "0xb6716976a3ebe8d39aceb04372f22ff8e6802d7a"
}`

func TestRelayHandlerPassesBodyAndMeta(t *testing.T) {
	f := &fakeRelayer{resp: &relay.Response{StatusCode: http.StatusOK, Body: relay.ResponseBody{ID: "0xabc"}}}
	w := serve(t, relayEngine(f), http.MethodPost, "/relay", validBody, map[string]string{
		middleware.HeaderRealIP:    "198.51.100.4",
		middleware.HeaderRequestID: "req-42",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"0xabc"}`, w.Body.String())
	require.Equal(t, 1, f.calls)
	assert.Equal(t, `"0x2"`, string(f.body.Nonce))
	require.NotNil(t, f.body.Proxy)
	assert.Equal(t, "0xb6716976a3ebe8d39aceb04372f22ff8e6802d7a", *f.body.Proxy)
	assert.Equal(t, relay.Meta{RequestID: "req-42", ClientIP: "198.51.100.4"}, f.meta)
}

func TestRelayHandlerBindErrors(t *testing.T) {
	f := &fakeRelayer{}
	r := relayEngine(f)

	w := serve(t, r, http.MethodPost, "/relay", `{"from":"nope","txData":"0x0"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body relay.ResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Errors)
	assert.Contains(t, strings.Join(body.Errors, ";"), "From")

	w = serve(t, r, http.MethodPost, "/relay", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.calls)
}

func TestRelayHandlerErrorStatus(t *testing.T) {
	cases := []struct {
		name       string
		e          errno.Errno
		retryAfter bool
	}{
		{"conflict", errno.ErrConflictingInFlight, false},
		{"exhausted", errno.ErrPoolExhausted, true},
		{"rejected", errno.ErrChainRejected, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeRelayer{resp: &relay.Response{
				StatusCode: tc.e.HTTPStatus,
				Code:       tc.e.Code,
				Body:       relay.ResponseBody{Errors: []string{tc.e.Message}},
			}}
			w := serve(t, relayEngine(f), http.MethodPost, "/relay", validBody, nil)
			assert.Equal(t, tc.e.HTTPStatus, w.Code)
			assert.Contains(t, w.Body.String(), tc.e.Message)
			assert.Equal(t, tc.retryAfter, w.Header().Get("Retry-After") != "")
		})
	}
}

type fakePurse struct {
	status *purse.Status
	err    error
	funded int
}

func (f *fakePurse) Status(context.Context) (*purse.Status, error) { return f.status, f.err }

func (f *fakePurse) Replenish(context.Context) (int, error) { return f.funded, f.err }

func purseEngine(p PurseAdmin) *gin.Engine {
	r := gin.New()
	h := NewPurseHandler(p)
	r.GET("/admin/purse", h.Status)
	r.POST("/admin/purse/replenish", h.Replenish)
	return r
}

func TestPurseHandler(t *testing.T) {
	p := &fakePurse{
		status: &purse.Status{
			Master:  purse.SignerStatus{Address: common.HexToAddress("0x01"), Ether: "10"},
			Signers: []purse.SignerStatus{{Index: 1, Address: common.HexToAddress("0x02"), Busy: true, Ether: "0.5"}},
			Busy:    1,
		},
		funded: 2,
	}
	r := purseEngine(p)

	w := serve(t, r, http.MethodGet, "/admin/purse", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"busy":1`)
	assert.Contains(t, w.Body.String(), `"balance_eth":"0.5"`)

	w = serve(t, r, http.MethodPost, "/admin/purse/replenish", `{"timeout_seconds":5}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"funded":2`)

	w = serve(t, r, http.MethodPost, "/admin/purse/replenish", `{"timeout_seconds":-1}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurseHandlerNotInitialized(t *testing.T) {
	r := purseEngine(&fakePurse{err: purse.ErrNotInitialized})
	w := serve(t, r, http.MethodGet, "/admin/purse", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"code":50301`)
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck)
	w := serve(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"UP"`)
}
