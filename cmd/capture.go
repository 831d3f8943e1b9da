// cmd/capture.go
package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/apiclient"
	"github.com/xkilldash9x/webtrail/internal/browser"
	"github.com/xkilldash9x/webtrail/internal/browser/inject"
	"github.com/xkilldash9x/webtrail/internal/capture"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
	"github.com/xkilldash9x/webtrail/internal/router"
	"github.com/xkilldash9x/webtrail/internal/store"
)

var cmdJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotProxy defers the snapshot target until the agent exists. The
// session needs a SnapshotRequester at construction time, but the agent
// needs the session first.
type snapshotProxy struct {
	agent *browser.Agent
}

func (p *snapshotProxy) RequestSnapshot(ctx context.Context) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.RequestSnapshot(ctx)
}

// newCaptureCmd creates and configures the `capture` command.
func newCaptureCmd() *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Drives a browser and records interaction trails for the active task",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.start_url", cmd.Flags().Lookup("url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.remote_url", cmd.Flags().Lookup("remote")); err != nil {
				return err
			}
			return viper.BindPFlag("capture.annotation_enabled", cmd.Flags().Lookup("annotate"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Re-resolve so the flag bindings above take precedence.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			return runCapture(cmd.Context(), cfg)
		},
	}

	captureCmd.Flags().String("url", "", "URL to open first (default from config)")
	captureCmd.Flags().Bool("headless", false, "run the browser headless")
	captureCmd.Flags().String("remote", "", "attach to a running browser's DevTools websocket instead of launching one")
	captureCmd.Flags().Bool("annotate", false, "freeze active interactions until a purpose is supplied")
	return captureCmd
}

func runCapture(parent context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	storePath, err := cfg.StorePath()
	if err != nil {
		return err
	}
	durable, err := store.OpenDurable(ctx, storePath, logger)
	if err != nil {
		return err
	}
	defer durable.Close()

	gateway := store.NewGateway(durable, store.NewSession())
	client := apiclient.New(cfg, gateway, logger)
	client.Refresher().OnAuthFailure(func() {
		logger.Warn("Credentials no longer refreshable, stopping capture. Run `webtrail login` again.")
		cancel()
	})

	rtr := router.New(cfg, client, gateway, durable, logger)
	go rtr.Serve(ctx)
	go store.StartSweeper(ctx, durable, cfg.Store.SweepInterval, nil)

	flusher := capture.NewFlusher(rtr, cfg.Auth.BaseURL, cfg.Capture.CompressThreshold, logger)
	snap := &snapshotProxy{}
	sess := capture.NewSession(cfg.Capture, cfg.Browser.StartURL, flusher, snap, logger, nil)
	client.SetSessionID(sess.ID())

	agent := browser.NewAgent(cfg.Browser, sess, logger)
	snap.agent = agent

	if cfg.Capture.AnnotationEnabled {
		sess.SetGate(capture.NewGate(agent, agent, sess.RecordAnnotated, logger))
	}

	if err := agent.Start(ctx, inject.Options{Annotate: cfg.Capture.AnnotationEnabled}); err != nil {
		return err
	}

	resolveTask(ctx, rtr, sess, cfg.Browser.StartURL, logger)
	go sess.RunIdleChecker(ctx)

	logger.Info("Capture running",
		zap.String("sessionId", sess.ID()),
		zap.String("startUrl", cfg.Browser.StartURL))

	<-ctx.Done()

	// The signal context is gone; give teardown its own deadline so the
	// final flush still has a transport to ride on.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	agent.Stop(shutdownCtx)

	logger.Info("Capture stopped")
	return nil
}

// resolveTask asks the router whether the starting URL belongs to an active
// task and arms the session with its id. No task means the session assembles
// views but discards them.
func resolveTask(ctx context.Context, rtr *router.Router, sess *capture.Session, startURL string, logger *zap.Logger) {
	payload, err := cmdJSON.Marshal(map[string]string{"url": startURL})
	if err != nil {
		return
	}
	resp := rtr.Handle(ctx, schemas.RouterRequest{Command: schemas.CmdGetActiveTask, Payload: payload})
	if !resp.OK {
		logger.Warn("Active task lookup failed, capturing without a task", zap.String("error", resp.Error))
		return
	}
	var task schemas.ActiveTask
	if err := cmdJSON.Unmarshal(resp.Data, &task); err != nil {
		logger.Warn("Malformed active task response", zap.Error(err))
		return
	}
	if task.TaskID == "" {
		logger.Info("No active task for this URL, views will be discarded")
		return
	}
	sess.SetTask(task.TaskID)
	logger.Info("Active task resolved", zap.String("taskId", task.TaskID))
}
