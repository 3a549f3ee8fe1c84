// Command orchestratord runs the orchestration core: the Workflow
// Execution Engine, Task Scheduler, Context Store, HITL Gate, and Event
// Fabric, fronted by the httpapi HTTP/WebSocket surface. Grounded on the
// teacher's example/cmd/assistant/main.go signal-handling and
// graceful-shutdown pattern, adapted from goa's generated gRPC/HTTP servers
// to a single chi-routed httpapi.Server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"
	"goa.design/clue/log"

	"github.com/geniusboywonder/bmad-core/config"
	"github.com/geniusboywonder/bmad-core/telemetry/clue"
	"github.com/geniusboywonder/bmad-core/telemetry/promexport"
)

// Exit codes, per spec.md §6: 0 clean shutdown, 1 configuration error, 2
// storage unreachable at startup, 3 unrecoverable runtime error.
const (
	exitOK = iota
	exitConfigError
	exitStorageUnavailable
	exitRuntimeError
)

func main() {
	cmd := &cli.Command{
		Name:  "orchestratord",
		Usage: "run the multi-agent SDLC orchestration core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a bmad-core.yaml config file"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: runServe,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "orchestratord: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitErr carries the process exit code alongside the error that caused it,
// since cli.Command.Run only returns an error.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if cmd.Bool("debug") {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logging enabled")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return &exitErr{code: exitConfigError, err: fmt.Errorf("loading config: %w", err)}
	}

	logger := clue.NewLogger()
	metrics := clue.NewMetrics()
	collector := promexport.New()

	a, err := build(ctx, cfg, logger, metrics)
	if err != nil {
		return &exitErr{code: exitStorageUnavailable, err: fmt.Errorf("wiring components: %w", err)}
	}
	defer a.Close()

	if err := a.wfEngine.RegisterHandlers(ctx); err != nil {
		return &exitErr{code: exitRuntimeError, err: fmt.Errorf("registering workflow handlers: %w", err)}
	}
	if err := a.wfEngine.ResumeActive(ctx); err != nil {
		log.Print(ctx, log.KV{K: "resume_active_error", V: err.Error()})
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sched.Run(runCtx)
	}()

	handleHTTPServer(runCtx, cfg.Server.Addr, a.httpServer, collector, &wg, errc, logger)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
	return nil
}
