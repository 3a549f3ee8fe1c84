package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"

	"github.com/geniusboywonder/bmad-core/agentexecutor/llm"
	"github.com/geniusboywonder/bmad-core/agentexecutor/noop"
	"github.com/geniusboywonder/bmad-core/config"
	"github.com/geniusboywonder/bmad-core/contextstore"
	contextstoreinmem "github.com/geniusboywonder/bmad-core/contextstore/inmem"
	"github.com/geniusboywonder/bmad-core/contextstore/mongostore"
	"github.com/geniusboywonder/bmad-core/correrr"
	"github.com/geniusboywonder/bmad-core/domain"
	"github.com/geniusboywonder/bmad-core/engine"
	"github.com/geniusboywonder/bmad-core/engine/inmem"
	"github.com/geniusboywonder/bmad-core/engine/temporal"
	"github.com/geniusboywonder/bmad-core/eventfabric"
	"github.com/geniusboywonder/bmad-core/eventfabric/memlog"
	"github.com/geniusboywonder/bmad-core/eventfabric/mongolog"
	"github.com/geniusboywonder/bmad-core/eventfabric/redisbus"
	"github.com/geniusboywonder/bmad-core/eventfabric/wshub"
	"github.com/geniusboywonder/bmad-core/hitl"
	hitlinmem "github.com/geniusboywonder/bmad-core/hitl/inmem"
	"github.com/geniusboywonder/bmad-core/hitl/redisstore"
	"github.com/geniusboywonder/bmad-core/httpapi"
	"github.com/geniusboywonder/bmad-core/scheduler"
	schedulerinmem "github.com/geniusboywonder/bmad-core/scheduler/inmem"
	"github.com/geniusboywonder/bmad-core/scheduler/redisqueue"
	"github.com/geniusboywonder/bmad-core/telemetry"
	"github.com/geniusboywonder/bmad-core/workflow"
	workflowinmem "github.com/geniusboywonder/bmad-core/workflow/inmem"
)

// app holds every wired component main needs to start and later tear down.
// production is true when the engine.backend config selects Temporal, in
// which case Context Store, Event Fabric, Scheduler queue, and HITL counter
// storage all switch to their Mongo/Redis-backed implementations alongside
// it: there is no independent per-component backend switch in config.Config,
// so "inmem" means fully local and "temporal" means fully distributed.
type app struct {
	httpServer *httpapi.Server
	sched      *scheduler.Scheduler
	wfEngine   *workflow.Engine
	hub        *wshub.Hub
	stopFuncs  []func()
}

// projectTerminalChecker adapts a workflow.ProjectStore into
// scheduler.ProjectStatusChecker directly, avoiding the circular dependency
// a Scheduler -> workflow.Engine -> Scheduler wiring would otherwise need
// (workflow.Engine itself implements ProjectStatusChecker by delegating to
// the same store, but it cannot be constructed until after the Scheduler
// it is meant to feed).
type projectTerminalChecker struct {
	projects workflow.ProjectStore
}

func (c projectTerminalChecker) IsTerminal(ctx context.Context, projectID string) (bool, error) {
	p, err := c.projects.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	return p.Status == domain.ProjectCompleted || p.Status == domain.ProjectFailed, nil
}

// globalStopChecker adapts a hitl.StopStore into scheduler.EmergencyStopChecker.
type globalStopChecker struct {
	stops hitl.StopStore
}

func (c globalStopChecker) IsActive(ctx context.Context, projectID string) (bool, error) {
	if _, err := c.stops.Active(ctx, projectID); err != nil {
		if correrr.CodeOf(err) == correrr.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// build wires every component per cfg, selecting in-memory or
// Mongo/Redis/Temporal-backed implementations by cfg.Engine.Backend.
func build(ctx context.Context, cfg *config.Config, logger telemetry.Logger, metrics telemetry.Metrics) (*app, error) {
	production := cfg.Engine.Backend == "temporal"

	events, stopEvents, err := buildEventFabric(ctx, cfg, production, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("event fabric: %w", err)
	}

	artifacts, stopArtifacts, err := buildContextStore(ctx, cfg, production)
	if err != nil {
		return nil, fmt.Errorf("context store: %w", err)
	}

	tasks, queue, stopScheduler, err := buildSchedulerStorage(cfg, production)
	if err != nil {
		return nil, fmt.Errorf("scheduler storage: %w", err)
	}

	approvals := hitlinmem.NewApprovalStore()
	counters, stopCounters, err := buildHITLCounters(cfg, production)
	if err != nil {
		return nil, fmt.Errorf("hitl counters: %w", err)
	}
	stops := hitlinmem.NewStopStore()

	projects := workflowinmem.NewProjectStore()
	runs := workflowinmem.NewRunStore()
	defs := workflowinmem.NewDefinitionStore()

	executor := buildAgentExecutor(logger)

	sched := scheduler.New(tasks, queue, artifacts, executor, events,
		scheduler.WithWorkerPoolSize(cfg.Scheduler.WorkerPoolSize),
		scheduler.WithAttemptTimeout(cfg.Scheduler.AttemptTimeout),
		scheduler.WithCancelGrace(cfg.Scheduler.CancelGrace),
		scheduler.WithHeartbeatInterval(cfg.Scheduler.HeartbeatInterval),
		scheduler.WithOrphanThreshold(cfg.Scheduler.OrphanThreshold),
		scheduler.WithMaxRetries(cfg.Scheduler.MaxRetries),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics),
		scheduler.WithProjectStatusChecker(projectTerminalChecker{projects: projects}),
		scheduler.WithEmergencyStopChecker(globalStopChecker{stops: stops}),
	)

	gate := hitl.NewGate(approvals, counters, stops, events,
		hitl.WithApprovalTTL(cfg.HITL.DefaultApprovalTTL),
		hitl.WithTaskCanceller(sched),
	)

	hostEngine, stopHost, err := buildHostEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("workflow engine: %w", err)
	}

	wfEngine := workflow.New(hostEngine, runs, projects, defs, sched, gate, approvals, artifacts, events,
		workflow.WithLogger(logger),
		workflow.WithTaskQueue(cfg.Engine.TemporalTaskQueue),
	)

	hub := wshub.New(wshub.Options{
		Fabric:    events,
		QueueSize: cfg.Events.SubscriberQueueSize,
		Logger:    logger,
	})

	srv := httpapi.New(httpapi.Server{
		Tasks:      sched,
		TaskReader: tasks,
		Projects:   projects,
		Runs:       runs,
		Workflow:   wfEngine,
		Gate:       gate,
		Approvals:  approvals,
		Counters:   counters,
		Stops:      stops,
		Events:     events,
		Hub:        hub,
		Logger:     logger,
	})

	a := &app{
		httpServer: srv,
		sched:      sched,
		wfEngine:   wfEngine,
		hub:        hub,
	}
	a.stopFuncs = append(a.stopFuncs, stopEvents, stopArtifacts, stopScheduler, stopCounters, stopHost)
	return a, nil
}

func (a *app) Close() {
	for _, stop := range a.stopFuncs {
		if stop != nil {
			stop()
		}
	}
}

func buildAgentExecutor(logger telemetry.Logger) scheduler.AgentExecutor {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return noop.New("build_output")
	}
	model := os.Getenv("BMAD_CORE_LLM_MODEL")
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	exec, err := llm.NewFromAPIKey(apiKey, model)
	if err != nil {
		logger.Warn(context.Background(), "falling back to noop agent executor", "error", err.Error())
		return noop.New("build_output")
	}
	return exec
}

func buildEventFabric(ctx context.Context, cfg *config.Config, production bool, logger telemetry.Logger, metrics telemetry.Metrics) (eventfabric.Fabric, func(), error) {
	if !production {
		bus := eventfabric.NewBus(
			eventfabric.WithLog(memlog.New()),
			eventfabric.WithLogger(logger),
			eventfabric.WithMetrics(metrics),
		)
		return bus, nil, nil
	}

	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log, err := mongolog.New(mongolog.Options{Client: mongoClient, Database: cfg.Storage.MongoDB})
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := connectRedis(cfg)
	if err != nil {
		return nil, nil, err
	}

	bus := eventfabric.NewBus(
		eventfabric.WithLog(log),
		eventfabric.WithLogger(logger),
		eventfabric.WithMetrics(metrics),
	)
	nodeID, _ := os.Hostname()
	bridge := redisbus.New(redisbus.Options{Client: redisClient, Bus: bus, Logger: logger, NodeID: nodeID})
	if err := bridge.Subscribe(ctx, ""); err != nil {
		return nil, nil, fmt.Errorf("subscribe to cluster event fan-out: %w", err)
	}

	fabric := newClusterFabric(bus, bridge)
	stop := func() {
		_ = redisClient.Close()
		_ = mongoClient.Disconnect(context.Background())
	}
	return fabric, stop, nil
}

func buildContextStore(ctx context.Context, cfg *config.Config, production bool) (contextstore.Store, func(), error) {
	if !production {
		return contextstoreinmem.New(nil), nil, nil
	}
	mongoClient, err := connectMongo(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := mongostore.New(mongostore.Options{Client: mongoClient, Database: cfg.Storage.MongoDB})
	if err != nil {
		return nil, nil, err
	}
	stop := func() { _ = mongoClient.Disconnect(context.Background()) }
	return store, stop, nil
}

func buildSchedulerStorage(cfg *config.Config, production bool) (scheduler.TaskStore, scheduler.Queue, func(), error) {
	tasks := schedulerinmem.NewTaskStore()
	if !production {
		return tasks, schedulerinmem.NewQueue(), nil, nil
	}
	redisClient, err := connectRedis(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	queue := redisqueue.New(redisClient, "")
	stop := func() { _ = redisClient.Close() }
	return tasks, queue, stop, nil
}

func buildHITLCounters(cfg *config.Config, production bool) (hitl.CounterStore, func(), error) {
	if !production {
		return hitlinmem.NewCounterStore(), nil, nil
	}
	redisClient, err := connectRedis(cfg)
	if err != nil {
		return nil, nil, err
	}
	store := redisstore.New(redisClient, "")
	stop := func() { _ = redisClient.Close() }
	return store, stop, nil
}

func buildHostEngine(cfg *config.Config, logger telemetry.Logger) (engine.Engine, func(), error) {
	if cfg.Engine.Backend != "temporal" {
		return inmem.New(), nil, nil
	}
	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{HostPort: cfg.Engine.TemporalHostPort, Namespace: cfg.Engine.TemporalNamespace},
		TaskQueue:     cfg.Engine.TemporalTaskQueue,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, eng.Stop, nil
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cl, err := mongo.Connect(options.Client().ApplyURI(cfg.Storage.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cl.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return cl, nil
}

func connectRedis(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Storage.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
