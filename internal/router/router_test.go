// internal/router/router_test.go
package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/apiclient"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/store"
)

type routerHarness struct {
	router  *Router
	gateway *store.Gateway
	cache   store.KV

	taskHits   atomic.Int64
	uploadHits atomic.Int64
	justHits   atomic.Int64
	loginCode  atomic.Int64

	uploadMu  sync.Mutex
	uploadIDs []string
}

func (h *routerHarness) uploadedIDs() []string {
	h.uploadMu.Lock()
	defer h.uploadMu.Unlock()
	return append([]string(nil), h.uploadIDs...)
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	h := &routerHarness{}
	h.loginCode.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc(apiclient.PathActiveTask, func(w http.ResponseWriter, r *http.Request) {
		h.taskHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"taskId":"task-7","active":true}`))
	})
	mux.HandleFunc(apiclient.PathTaskInfo, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"taskId":"task-7","description":"book a flight","active":true}`))
	})
	mux.HandleFunc(apiclient.PathJustifications, func(w http.ResponseWriter, r *http.Request) {
		h.justHits.Add(1)
		w.Write([]byte(`{"purposes":["compare prices","open result"]}`))
	})
	mux.HandleFunc(apiclient.PathTaskData, func(w http.ResponseWriter, r *http.Request) {
		h.uploadHits.Add(1)
		var env schemas.UploadEnvelope
		if routerJSON.NewDecoder(r.Body).Decode(&env) == nil && env.Payload != nil {
			h.uploadMu.Lock()
			h.uploadIDs = append(h.uploadIDs, env.Payload.ViewID)
			h.uploadMu.Unlock()
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc(apiclient.PathLogin, func(w http.ResponseWriter, r *http.Request) {
		code := int(h.loginCode.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			w.Write([]byte(`{"ok":false,"reason":"bad_password"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"access":"acc-1","refresh":"ref-1"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := config.NewDefaultConfig()
	cfg.Auth.BaseURL = srv.URL
	cfg.Auth.MaxRetries = 0
	cfg.Auth.BaseDelay = time.Millisecond
	cfg.Network.RequestTimeout = 2 * time.Second

	h.gateway = store.NewGateway(store.NewSession(), store.NewSession())
	h.cache = store.NewSession()

	client := apiclient.New(cfg, h.gateway, zap.NewNop())
	h.router = New(cfg, client, h.gateway, h.cache, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.router.Serve(ctx)
	return h
}

func dispatch(t *testing.T, r *Router, cmd schemas.Command, payload string) schemas.RouterResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Handle(ctx, schemas.RouterRequest{Command: cmd, Payload: []byte(payload)})
}

func TestRouter_ActiveTaskCached(t *testing.T) {
	h := newRouterHarness(t)

	resp := dispatch(t, h.router, schemas.CmdGetActiveTask, `{"url":"https://shop.example/item?id=1"}`)
	require.True(t, resp.OK, resp.Error)

	var task schemas.ActiveTask
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &task))
	assert.Equal(t, "task-7", task.TaskID)
	assert.Greater(t, task.Expiry, time.Now().UnixMilli())

	// Second lookup for the same link is served from the cache.
	resp = dispatch(t, h.router, schemas.CmdGetActiveTask, `{"url":"https://shop.example/item?id=1"}`)
	require.True(t, resp.OK)
	assert.Equal(t, int64(1), h.taskHits.Load())

	// A different query string is a different link.
	resp = dispatch(t, h.router, schemas.CmdGetActiveTask, `{"url":"https://shop.example/item?id=2"}`)
	require.True(t, resp.OK)
	assert.Equal(t, int64(2), h.taskHits.Load())
}

func TestRouter_RefreshTaskStatusBypassesCache(t *testing.T) {
	h := newRouterHarness(t)

	dispatch(t, h.router, schemas.CmdGetActiveTask, `{"url":"https://shop.example/item"}`)
	require.Equal(t, int64(1), h.taskHits.Load())

	resp := dispatch(t, h.router, schemas.CmdRefreshTaskStatus, `{"url":"https://shop.example/item"}`)
	require.True(t, resp.OK)
	assert.Equal(t, int64(2), h.taskHits.Load())
}

func TestRouter_JustificationsCached(t *testing.T) {
	h := newRouterHarness(t)

	resp := dispatch(t, h.router, schemas.CmdGetJustifications, `{"url":"https://shop.example/item"}`)
	require.True(t, resp.OK)
	assert.JSONEq(t, `{"purposes":["compare prices","open result"]}`, string(resp.Data))

	dispatch(t, h.router, schemas.CmdGetJustifications, `{"url":"https://shop.example/item"}`)
	assert.Equal(t, int64(1), h.justHits.Load())
}

func TestRouter_GetTaskInfo(t *testing.T) {
	h := newRouterHarness(t)

	resp := dispatch(t, h.router, schemas.CmdGetTaskInfo, `{"taskId":"task-7"}`)
	require.True(t, resp.OK)

	var info schemas.TaskInfo
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &info))
	assert.Equal(t, "book a flight", info.Description)
}

func TestRouter_LoggingToggleAndPopupData(t *testing.T) {
	h := newRouterHarness(t)
	ctx := context.Background()

	require.NoError(t, h.gateway.SaveCredentials(ctx, store.Credentials{
		Username: "ada", AccessToken: "a", RefreshToken: "r", LoggedIn: true,
	}))

	resp := dispatch(t, h.router, schemas.CmdGetPopupData, ``)
	require.True(t, resp.OK)
	var pd schemas.PopupData
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &pd))
	assert.True(t, pd.LoggedIn)
	assert.Equal(t, "ada", pd.Username)
	assert.True(t, pd.Logging)

	resp = dispatch(t, h.router, schemas.CmdAlterLogging, `{"enabled":false}`)
	require.True(t, resp.OK)

	resp = dispatch(t, h.router, schemas.CmdGetPopupData, ``)
	require.True(t, resp.OK)
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &pd))
	assert.False(t, pd.Logging)
}

func TestRouter_PopupDataIncludesCachedTask(t *testing.T) {
	h := newRouterHarness(t)

	dispatch(t, h.router, schemas.CmdGetActiveTask, `{"url":"https://shop.example/item?id=1"}`)

	resp := dispatch(t, h.router, schemas.CmdGetPopupData, `{"url":"https://shop.example/item?id=1"}`)
	require.True(t, resp.OK, resp.Error)
	var pd schemas.PopupData
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &pd))
	assert.True(t, pd.TaskActive)
	assert.Equal(t, "task-7", pd.TaskID)

	// A link without a cached task reports none.
	resp = dispatch(t, h.router, schemas.CmdGetPopupData, `{"url":"https://other.example/"}`)
	require.True(t, resp.OK)
	pd = schemas.PopupData{}
	require.NoError(t, routerJSON.Unmarshal(resp.Data, &pd))
	assert.False(t, pd.TaskActive)
	assert.Empty(t, pd.TaskID)
}

func TestRouter_DisabledLoggingSuppressesUploads(t *testing.T) {
	h := newRouterHarness(t)

	resp := dispatch(t, h.router, schemas.CmdAlterLogging, `{"enabled":false}`)
	require.True(t, resp.OK)

	dropped := &schemas.UploadEnvelope{Payload: &schemas.PageViewPayload{
		ViewID: "v-dropped", SessionID: "s1", URL: "https://shop.example",
	}}
	require.NoError(t, h.router.UploadView(context.Background(), dropped))

	// Re-enable and ship a second view. The worker preserves queue order, so
	// the collector seeing only the second one proves the first never left.
	resp = dispatch(t, h.router, schemas.CmdAlterLogging, `{"enabled":true}`)
	require.True(t, resp.OK)

	shipped := &schemas.UploadEnvelope{Payload: &schemas.PageViewPayload{
		ViewID: "v-shipped", SessionID: "s1", URL: "https://shop.example",
	}}
	require.NoError(t, h.router.UploadView(context.Background(), shipped))

	require.Eventually(t, func() bool {
		return h.uploadHits.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"v-shipped"}, h.uploadedIDs())
}

func TestRouter_UploadViewDelivered(t *testing.T) {
	h := newRouterHarness(t)

	env := &schemas.UploadEnvelope{Payload: &schemas.PageViewPayload{
		ViewID: "v1", SessionID: "s1", URL: "https://shop.example",
	}}
	require.NoError(t, h.router.UploadView(context.Background(), env))

	require.Eventually(t, func() bool {
		return h.uploadHits.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRouter_Login(t *testing.T) {
	h := newRouterHarness(t)
	ctx := context.Background()

	resp := h.router.Login(ctx, "ada", "secret")
	require.True(t, resp.OK)
	assert.Equal(t, "acc-1", resp.Access)

	creds, err := h.gateway.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", creds.Username)
	assert.Equal(t, "acc-1", creds.AccessToken)
	assert.Equal(t, "ref-1", creds.RefreshToken)
	assert.True(t, creds.LoggedIn)
}

func TestRouter_LoginFailureSurfacesReason(t *testing.T) {
	h := newRouterHarness(t)
	h.loginCode.Store(http.StatusBadRequest)

	resp := h.router.Login(context.Background(), "ada", "wrong")
	assert.False(t, resp.OK)
	assert.Equal(t, schemas.LoginBadPassword, resp.Reason)
}

func TestRouter_LoginConnectionError(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Auth.BaseURL = "http://127.0.0.1:1" // nothing listens here
	cfg.Auth.MaxRetries = 0
	cfg.Auth.BaseDelay = time.Millisecond
	cfg.Network.RequestTimeout = 500 * time.Millisecond

	gateway := store.NewGateway(store.NewSession(), store.NewSession())
	client := apiclient.New(cfg, gateway, zap.NewNop())
	r := New(cfg, client, gateway, store.NewSession(), zap.NewNop())

	resp := r.Login(context.Background(), "ada", "secret")
	assert.False(t, resp.OK)
	assert.Equal(t, schemas.LoginConnection, resp.Reason)
}

func TestRouter_UnknownCommand(t *testing.T) {
	h := newRouterHarness(t)
	resp := dispatch(t, h.router, schemas.Command("bogus"), ``)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestFingerprint(t *testing.T) {
	fp, err := Fingerprint("https://shop.example/item?id=1#reviews")
	require.NoError(t, err)
	assert.Equal(t, "shop.example/item?id=1", fp)

	fp2, err := Fingerprint("https://shop.example/item?id=2")
	require.NoError(t, err)
	assert.NotEqual(t, fp, fp2)
}
