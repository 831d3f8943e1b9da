// internal/router/router.go

// Package router is the single authority for login state, active-task
// lookups and upload delivery. All capture surfaces talk to it through a
// fixed request/response envelope handled by one goroutine, so task and
// credential state never needs finer-grained locking.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/apiclient"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/store"
)

var routerJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// taskKeyPrefix namespaces active-task cache entries in the durable store.
const taskKeyPrefix = "task:"

// justificationKeyPrefix namespaces per-link interface cache entries.
const justificationKeyPrefix = "iface:"

type dispatchReq struct {
	ctx   context.Context
	req   schemas.RouterRequest
	reply chan schemas.RouterResponse
}

// Router owns cross-session state. Construct with New, then run Serve on
// its own goroutine; Handle and UploadView are safe from any goroutine.
type Router struct {
	client  *apiclient.Client
	gateway *store.Gateway
	cache   store.KV
	ttl     time.Duration
	log     *zap.Logger

	requests chan dispatchReq
	uploads  chan *schemas.UploadEnvelope

	// logging is the capture on/off toggle the status surface flips. Read by
	// the upload path from capture goroutines, hence atomic.
	logging atomic.Bool
}

// New wires the router. cache is the durable store holding task and
// interface entries.
func New(cfg *config.Config, client *apiclient.Client, gateway *store.Gateway, cache store.KV, logger *zap.Logger) *Router {
	r := &Router{
		client:   client,
		gateway:  gateway,
		cache:    cache,
		ttl:      cfg.Store.TaskCacheTTL,
		log:      logger.Named("router"),
		requests: make(chan dispatchReq),
		uploads:  make(chan *schemas.UploadEnvelope, 16),
	}
	r.logging.Store(true)
	return r
}

// Serve runs the dispatch loop until ctx is done. Uploads are drained on a
// separate worker so a slow collector cannot stall command handling.
func (r *Router) Serve(ctx context.Context) {
	go r.uploadWorker(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.requests:
			d.reply <- r.handle(d.ctx, d.req)
		}
	}
}

// Handle submits one command envelope and waits for its response.
func (r *Router) Handle(ctx context.Context, req schemas.RouterRequest) schemas.RouterResponse {
	d := dispatchReq{ctx: ctx, req: req, reply: make(chan schemas.RouterResponse, 1)}
	select {
	case r.requests <- d:
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	select {
	case resp := <-d.reply:
		return resp
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

func (r *Router) handle(ctx context.Context, req schemas.RouterRequest) schemas.RouterResponse {
	switch req.Command {
	case schemas.CmdGetActiveTask:
		return r.getActiveTask(ctx, req.Payload, false)
	case schemas.CmdRefreshTaskStatus:
		return r.getActiveTask(ctx, req.Payload, true)
	case schemas.CmdGetTaskInfo:
		return r.getTaskInfo(ctx, req.Payload)
	case schemas.CmdGetJustifications:
		return r.getJustifications(ctx, req.Payload)
	case schemas.CmdAlterLogging:
		return r.alterLogging(req.Payload)
	case schemas.CmdGetPopupData:
		return r.popupData(ctx, req.Payload)
	case schemas.CmdUploadView:
		return r.enqueueUpload(req.Payload)
	default:
		return fail(fmt.Errorf("unknown command %q", req.Command))
	}
}

func ok(data interface{}) schemas.RouterResponse {
	raw, err := routerJSON.Marshal(data)
	if err != nil {
		return fail(err)
	}
	return schemas.RouterResponse{OK: true, Data: raw}
}

func fail(err error) schemas.RouterResponse {
	return schemas.RouterResponse{OK: false, Error: err.Error()}
}

// urlPayload is the common {url} command payload.
type urlPayload struct {
	URL string `json:"url"`
}

// Fingerprint reduces a URL to its cache identity: host, path and query,
// with the fragment dropped.
func Fingerprint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing link %q: %w", raw, err)
	}
	u.Fragment = ""
	return u.Host + u.Path + "?" + u.RawQuery, nil
}

func (r *Router) getActiveTask(ctx context.Context, payload []byte, force bool) schemas.RouterResponse {
	var p urlPayload
	if err := routerJSON.Unmarshal(payload, &p); err != nil {
		return fail(err)
	}
	fp, err := Fingerprint(p.URL)
	if err != nil {
		return fail(err)
	}
	key := taskKeyPrefix + fp

	if force {
		if err := r.cache.Remove(ctx, key); err != nil {
			r.log.Warn("Failed to drop cached task entry", zap.Error(err))
		}
	} else if raw, err := r.cache.Get(ctx, key); err == nil {
		var task schemas.ActiveTask
		if routerJSON.Unmarshal(raw, &task) == nil {
			// Sliding expiry: a hit renews the window.
			r.cacheTask(ctx, key, task)
			return ok(task)
		}
	}

	body, _ := routerJSON.Marshal(p)
	out, err := r.client.Do(ctx, "POST", apiclient.PathActiveTask, body, "application/json")
	if err != nil {
		return fail(err)
	}
	var info schemas.TaskInfo
	if err := routerJSON.Unmarshal(out, &info); err != nil {
		return fail(fmt.Errorf("decoding active task response: %w", err))
	}
	task := schemas.ActiveTask{
		TaskID: info.TaskID,
		Expiry: time.Now().Add(r.ttl).UnixMilli(),
	}
	if info.Active {
		r.cacheTask(ctx, key, task)
	}
	return ok(task)
}

func (r *Router) cacheTask(ctx context.Context, key string, task schemas.ActiveTask) {
	task.Expiry = time.Now().Add(r.ttl).UnixMilli()
	raw, err := routerJSON.Marshal(task)
	if err != nil {
		return
	}
	if err := r.cache.SetWithExpiry(ctx, key, raw, r.ttl); err != nil {
		r.log.Warn("Failed to cache task entry", zap.Error(err))
	}
}

type taskInfoPayload struct {
	TaskID string `json:"taskId"`
}

func (r *Router) getTaskInfo(ctx context.Context, payload []byte) schemas.RouterResponse {
	var p taskInfoPayload
	if err := routerJSON.Unmarshal(payload, &p); err != nil {
		return fail(err)
	}
	body, _ := routerJSON.Marshal(p)
	out, err := r.client.Do(ctx, "POST", apiclient.PathTaskInfo, body, "application/json")
	if err != nil {
		return fail(err)
	}
	var info schemas.TaskInfo
	if err := routerJSON.Unmarshal(out, &info); err != nil {
		return fail(fmt.Errorf("decoding task info response: %w", err))
	}
	return ok(info)
}

func (r *Router) getJustifications(ctx context.Context, payload []byte) schemas.RouterResponse {
	var p urlPayload
	if err := routerJSON.Unmarshal(payload, &p); err != nil {
		return fail(err)
	}
	fp, err := Fingerprint(p.URL)
	if err != nil {
		return fail(err)
	}
	key := justificationKeyPrefix + fp

	if raw, err := r.cache.Get(ctx, key); err == nil {
		return schemas.RouterResponse{OK: true, Data: raw}
	}

	body, _ := routerJSON.Marshal(p)
	out, err := r.client.Do(ctx, "POST", apiclient.PathJustifications, body, "application/json")
	if err != nil {
		return fail(err)
	}
	if err := r.cache.SetWithExpiry(ctx, key, out, r.ttl); err != nil {
		r.log.Warn("Failed to cache interface entry", zap.Error(err))
	}
	return schemas.RouterResponse{OK: true, Data: out}
}

func (r *Router) alterLogging(payload []byte) schemas.RouterResponse {
	var p schemas.LoggingStatusChange
	if err := routerJSON.Unmarshal(payload, &p); err != nil {
		return fail(err)
	}
	r.logging.Store(p.Enabled)
	r.log.Info("Capture logging toggled", zap.Bool("enabled", p.Enabled))
	return ok(p)
}

// popupData answers the status surface in one round trip. When the request
// names the tab's URL, the task fields are filled from the cache without
// going to the network.
func (r *Router) popupData(ctx context.Context, payload []byte) schemas.RouterResponse {
	creds, err := r.gateway.Credentials(ctx)
	if err != nil {
		return fail(err)
	}
	data := schemas.PopupData{
		LoggedIn: creds.LoggedIn,
		Username: creds.Username,
		Logging:  r.logging.Load(),
	}

	var p urlPayload
	if len(payload) > 0 && routerJSON.Unmarshal(payload, &p) == nil && p.URL != "" {
		if fp, err := Fingerprint(p.URL); err == nil {
			if raw, err := r.cache.Get(ctx, taskKeyPrefix+fp); err == nil {
				var task schemas.ActiveTask
				if routerJSON.Unmarshal(raw, &task) == nil && task.TaskID != "" {
					data.TaskActive = true
					data.TaskID = task.TaskID
				}
			}
		}
	}
	return ok(data)
}

func (r *Router) enqueueUpload(payload []byte) schemas.RouterResponse {
	var env schemas.UploadEnvelope
	if err := routerJSON.Unmarshal(payload, &env); err != nil {
		return fail(err)
	}
	if err := r.queue(&env); err != nil {
		return fail(err)
	}
	return ok(map[string]bool{"queued": true})
}

// UploadView hands a finalized view to the delivery worker. It never blocks
// the capture path; when the queue is full the view is dropped and logged.
func (r *Router) UploadView(_ context.Context, env *schemas.UploadEnvelope) error {
	return r.queue(env)
}

func (r *Router) queue(env *schemas.UploadEnvelope) error {
	if !r.logging.Load() {
		r.log.Debug("Logging disabled, discarding view")
		return nil
	}
	select {
	case r.uploads <- env:
		return nil
	default:
		r.log.Warn("Upload queue full, dropping view")
		return fmt.Errorf("upload queue full")
	}
}

func (r *Router) uploadWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.uploads:
			body, err := routerJSON.Marshal(env)
			if err != nil {
				r.log.Error("Failed to serialize upload", zap.Error(err))
				continue
			}
			if _, err := r.client.Do(ctx, "POST", apiclient.PathTaskData, body, "application/json"); err != nil {
				// Best effort: one lost view is preferable to blocking.
				r.log.Warn("View upload failed", zap.Error(err))
			}
		}
	}
}

// Login authenticates against the collector and persists the credential
// set. Connection-level failures map onto the connection_error surface.
func (r *Router) Login(ctx context.Context, username, password string) schemas.LoginResponse {
	body, err := routerJSON.Marshal(schemas.LoginRequest{Username: username, Password: password})
	if err != nil {
		return schemas.LoginResponse{OK: false, Reason: schemas.LoginConnection}
	}
	out, err := r.client.Do(ctx, "POST", apiclient.PathLogin, body, "application/json")
	if err != nil {
		var srvErr *apiclient.ServerError
		if errors.As(err, &srvErr) {
			var resp schemas.LoginResponse
			if routerJSON.Unmarshal(srvErr.Body, &resp) == nil && resp.Reason != "" {
				return resp
			}
		}
		r.log.Warn("Login request failed", zap.Error(err))
		return schemas.LoginResponse{OK: false, Reason: schemas.LoginConnection}
	}

	var resp schemas.LoginResponse
	if err := routerJSON.Unmarshal(out, &resp); err != nil || !resp.OK {
		return schemas.LoginResponse{OK: false, Reason: schemas.LoginConnection}
	}
	creds := store.Credentials{
		Username:     username,
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		LoggedIn:     true,
	}
	if err := r.gateway.SaveCredentials(ctx, creds); err != nil {
		r.log.Error("Failed to persist credentials", zap.Error(err))
	}
	return resp
}

// Logout clears the stored credential set.
func (r *Router) Logout(ctx context.Context) error {
	return r.gateway.ClearCredentials(ctx)
}
