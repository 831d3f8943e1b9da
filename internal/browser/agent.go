// internal/browser/agent.go

// Package browser drives the instrumented Chrome instance. It owns the
// browser lifecycle, installs the capture script on every new document, and
// pumps binding messages into the capture session.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/browser/inject"
	"github.com/xkilldash9x/webtrail/internal/capture"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// Agent is one instrumented browser. It implements the capture session's
// PageFreezer, ActionReplayer and SnapshotRequester collaborators by
// evaluating the hooks the injected script exposes.
type Agent struct {
	cfg     config.BrowserConfig
	session *capture.Session
	log     *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context

	// inbox serializes binding traffic so events reach the session in the
	// order their in-page handlers fired.
	inbox chan []byte
	wg    sync.WaitGroup
}

// NewAgent wires an agent to an existing capture session.
func NewAgent(cfg config.BrowserConfig, session *capture.Session, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		session: session,
		log:     logger.Named("browser"),
		inbox:   make(chan []byte, 1024),
	}
}

// Start launches (or attaches to) Chrome, injects the instrumentation, and
// navigates to the configured start URL. Binding traffic flows until Stop.
func (a *Agent) Start(ctx context.Context, opts inject.Options) error {
	script, err := inject.Script(opts)
	if err != nil {
		return err
	}

	allocCtx, allocCancel := a.newAllocator(ctx)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		a.log.Debug(fmt.Sprintf(format, args...))
	}))

	a.mu.Lock()
	a.allocCancel = allocCancel
	a.tabCancel = tabCancel
	a.tabCtx = tabCtx
	a.mu.Unlock()

	a.listen(tabCtx)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := runtime.AddBinding(inject.BindingName).Do(ctx); err != nil {
				return fmt.Errorf("adding capture binding: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("injecting instrumentation script: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(a.cfg.StartURL),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("starting instrumented browser: %w", err)
	}

	a.log.Info("Instrumented browser started",
		zap.String("startUrl", a.cfg.StartURL),
		zap.Bool("headless", a.cfg.Headless))
	return nil
}

func (a *Agent) newAllocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, a.cfg.RemoteURL)
	}
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if a.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range a.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return chromedp.NewExecAllocator(ctx, opts...)
}

// listen pumps CDP events into the session. The target listener must not
// block, so payloads are queued and drained by a single goroutine, which
// also preserves in-page handler order.
func (a *Agent) listen(tabCtx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-tabCtx.Done():
				return
			case payload := <-a.inbox:
				a.dispatch(tabCtx, payload)
			}
		}
	}()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name != inject.BindingName {
				return
			}
			a.enqueue([]byte(e.Payload))
		case *page.EventFrameNavigated:
			// Full page loads bypass the history patch; only the top frame
			// counts as a navigation.
			if e.Frame.ParentID != "" {
				return
			}
			a.enqueue([]byte(fmt.Sprintf(`{"type":%q,"url":%q}`, inject.TypeNavigate, e.Frame.URL)))
		}
	})
}

func (a *Agent) enqueue(payload []byte) {
	select {
	case a.inbox <- payload:
	default:
		a.log.Warn("Binding inbox full, dropping message")
	}
}

func (a *Agent) dispatch(ctx context.Context, payload []byte) {
	env, err := inject.Decode(payload)
	if err != nil {
		a.log.Warn("Dropping malformed binding message", zap.Error(err))
		return
	}
	switch env.Type {
	case inject.TypeEvent:
		if env.Event != nil {
			a.session.HandleRaw(ctx, env.Event)
		}
	case inject.TypeMousePath:
		if env.Point != nil {
			a.session.HandleMousePoint(*env.Point)
		}
	case inject.TypeScrollPath:
		if env.Point != nil {
			a.session.HandleScrollPoint(*env.Point)
		}
	case inject.TypeVisibility:
		a.session.HandleVisibility(ctx, env.Visible)
	case inject.TypeNavigate:
		a.session.HandleNavigation(ctx, env.URL)
		if env.Title != "" {
			a.session.SetTitle(env.Title)
		}
	case inject.TypeTitle:
		a.session.SetTitle(env.Title)
	case inject.TypeReplay:
		a.session.HandleReplay(env.Data)
	default:
		a.log.Debug("Unknown binding message type", zap.String("type", env.Type))
	}
}

func (a *Agent) eval(ctx context.Context, expr string) error {
	a.mu.Lock()
	tabCtx := a.tabCtx
	a.mu.Unlock()
	if tabCtx == nil {
		return fmt.Errorf("browser not started")
	}
	return chromedp.Run(tabCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, exc, err := runtime.Evaluate(expr).Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("page evaluation failed: %s", exc.Text)
		}
		return nil
	}))
}

// Freeze suspends page scroll and pointer interaction.
func (a *Agent) Freeze(ctx context.Context) error {
	return a.eval(ctx, "window.__wtFreeze()")
}

// Unfreeze restores page interaction.
func (a *Agent) Unfreeze(ctx context.Context) error {
	return a.eval(ctx, "window.__wtUnfreeze()")
}

// ReplayDefault re-dispatches the deferred default action held in-page.
func (a *Agent) ReplayDefault(ctx context.Context, _ *capture.RawEvent) error {
	return a.eval(ctx, "window.__wtReplayDefault()")
}

// RequestSnapshot asks the replay recorder for a full baseline frame.
func (a *Agent) RequestSnapshot(ctx context.Context) error {
	return a.eval(ctx, "window.__wtTakeSnapshot()")
}

// Stop tears down the browser and waits for in-flight binding messages.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	tabCancel, allocCancel := a.tabCancel, a.allocCancel
	a.tabCancel, a.allocCancel, a.tabCtx = nil, nil, nil
	a.mu.Unlock()

	a.session.Close(ctx)
	if tabCancel != nil {
		tabCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	a.wg.Wait()
	a.log.Info("Instrumented browser stopped")
}
