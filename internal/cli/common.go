package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nace/volcrypt/internal/config"
	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/service"
	"github.com/nace/volcrypt/internal/system"
	"github.com/nace/volcrypt/internal/ui"
	"github.com/nace/volcrypt/internal/volume"
	"github.com/spf13/cobra"
)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor *system.Executor
	Logger   *ui.Logger
	Config   config.Config
	Service  *service.Service

	// ConfigPath is the --config value; empty searches the default locations
	ConfigPath string
}

// NewGlobalContext creates a new global context. The service is built by
// Setup once flags are parsed.
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	logger := ui.NewLogger(verbose, quiet, noColor)
	return &GlobalContext{
		Executor: system.NewExecutor(debug, logger),
		Logger:   logger,
	}
}

// Setup loads the configuration and wires the service.
func (ctx *GlobalContext) Setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags(), ctx.ConfigPath)
	if err != nil {
		return err
	}
	ctx.Config = cfg

	svc, err := service.New(service.Options{
		Config: cfg,
		Runner: ctx.Executor,
		Log:    ctx.Logger,
	})
	if err != nil {
		return err
	}
	ctx.Service = svc
	return nil
}

// RequireTool locates the tool and fails if it cannot be run.
func (ctx *GlobalContext) RequireTool(c context.Context) error {
	if !ctx.Service.CheckToolInstallation(c) {
		return fmt.Errorf("%w: install VeraCrypt or set tool.path", system.ErrToolNotFound)
	}
	return nil
}

// GetPassword reads the passphrase unless a keyfile is given, in which case
// it returns nil. Caller is responsible for calling Zeroize.
func GetPassword(keyfile string, requireConfirmation bool) (*system.SecureBytes, error) {
	if keyfile != "" {
		return nil, nil
	}
	if requireConfirmation {
		return ui.PromptNewPassword("Enter passphrase")
	}
	return ui.PromptPassword("Enter passphrase")
}

// runOperation executes op while relaying its progress to the logger. An
// interrupt cancels whatever is running instead of killing volcrypt, so the
// tool gets a chance to stop cleanly.
func (ctx *GlobalContext) runOperation(op func(context.Context) volume.Result) volume.Result {
	unsubscribe := ctx.Service.Subscribe(ctx.reportProgress)
	defer unsubscribe()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go relaySignals(sigs, done, ctx.Service.CancelAll, ctx.Logger)

	return op(context.Background())
}

// relaySignals calls cancel for every signal received until done closes.
// A second interrupt must still reach operations started after the first.
func relaySignals(sigs <-chan os.Signal, done <-chan struct{}, cancel func() int, log *ui.Logger) {
	for {
		select {
		case <-sigs:
			if n := cancel(); n > 0 {
				log.Warning("Interrupted, cancelled %d operation(s)", n)
			}
		case <-done:
			return
		}
	}
}

func (ctx *GlobalContext) reportProgress(ev events.Event) {
	u, ok := ev.(events.StatusUpdate)
	if !ok {
		return
	}
	switch u.Status {
	case events.Initializing:
		ctx.Logger.Debug("[%s] %s", u.OperationID, u.Message)
	case events.Processing:
		ctx.Logger.Info("%s", u.Message)
	case events.Cancelled:
		ctx.Logger.Warning("%s", u.Message)
	}
}

// resultError turns a failed result into the command's error.
func resultError(res volume.Result) error {
	if res.Success {
		return nil
	}
	if res.Err != nil {
		return &operationError{msg: res.Message, err: res.Err}
	}
	return errors.New(res.Message)
}

type operationError struct {
	msg string
	err error
}

func (e *operationError) Error() string { return e.msg }

func (e *operationError) Unwrap() error { return e.err }
