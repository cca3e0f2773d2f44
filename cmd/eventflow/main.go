package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-eventflow/cache"
	"github.com/goliatone/go-eventflow/dispatcher"
	"github.com/goliatone/go-eventflow/health"
	"github.com/goliatone/go-eventflow/recordstore"
	"github.com/goliatone/go-eventflow/recordstore/sqlite"
	"github.com/goliatone/go-eventflow/registry"
	"github.com/goliatone/go-eventflow/router"
	"github.com/goliatone/go-eventflow/workflow"
	"github.com/goliatone/go-logger/glog"
)

type cliContext struct {
	logger eventflow.Logger
	cfg    dispatcher.Config
}

type validateCmd struct{}

func (c *validateCmd) Run(cc *cliContext) error {
	fmt.Printf("configuration ok: %d handlers, %d workflows, %d bindings\n",
		len(cc.cfg.Handlers), len(cc.cfg.Workflows), len(cc.cfg.Bindings))
	return nil
}

type routeCmd struct {
	Type       string `arg:"" help:"Event type to resolve."`
	Capability string `help:"Required capability carried by the event."`
	Entity     string `help:"Business entity id carried by the event."`
	Priority   string `help:"Event priority." default:"normal"`
}

func (c *routeCmd) Run(cc *cliContext) error {
	ctx := context.Background()
	rt, _, err := buildRouter(ctx, cc)
	if err != nil {
		return err
	}
	evt := eventflow.NewEvent(c.Type, nil)
	evt.RequiredCapability = c.Capability
	evt.BusinessEntityID = c.Entity
	evt.Priority = eventflow.NormalizePriority(c.Priority)

	res, err := rt.Route(ctx, evt)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"handler_id": res.HandlerID,
		"strategy":   res.Strategy,
		"fallback":   res.Fallback,
	})
}

type runCmd struct {
	Type    string `arg:"" help:"Event type to submit."`
	Entity  string `help:"Business entity id carried by the event."`
	Payload string `help:"Event payload as a JSON object." default:"{}"`
	DB      string `help:"SQLite path for the record store. Empty keeps records in memory." type:"path"`
}

func (c *runCmd) Run(cc *cliContext) error {
	ctx := context.Background()
	rt, tracker, err := buildRouter(ctx, cc)
	if err != nil {
		return err
	}

	payload := map[string]any{}
	if err := json.Unmarshal([]byte(c.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	var records recordstore.Store
	if c.DB != "" {
		store, err := sqlite.Open(c.DB, "")
		if err != nil {
			return err
		}
		defer store.Close()
		records = store
	} else {
		records = recordstore.NewMemory()
	}

	hot := cache.New(cache.WithLogger(cc.logger))
	instances := workflow.NewWriteThroughStore(hot, records,
		workflow.WithWriteThroughLogger(cc.logger))
	defer instances.Close()

	engine, err := workflow.New(cc.cfg.WorkflowSet(), instances,
		workflow.WithLogger(cc.logger),
		workflow.WithTracker(tracker),
		workflow.WithSink(eventflow.NewLoggerSink(cc.logger)),
	)
	if err != nil {
		return err
	}

	disp, err := dispatcher.New(rt,
		dispatcher.WithEngine(engine),
		dispatcher.WithBindings(cc.cfg.Bindings),
		dispatcher.WithLogger(cc.logger),
	)
	if err != nil {
		return err
	}

	evt := eventflow.NewEvent(c.Type, payload)
	evt.BusinessEntityID = c.Entity

	resp, err := disp.Submit(ctx, evt)
	if err != nil {
		cc.logger.Error("submit failed: %v", err)
	}
	return printJSON(resp)
}

func buildRouter(ctx context.Context, cc *cliContext) (*router.Router, *health.Tracker, error) {
	reg, err := registry.New(ctx, registry.StaticLoader(cc.cfg.Handlers...),
		registry.WithLogger(cc.logger))
	if err != nil {
		return nil, nil, err
	}
	tracker := health.NewTracker(health.Config{}, health.WithLogger(cc.logger))
	rt, err := router.New(cc.cfg.Router, reg, tracker,
		router.WithLogger(cc.logger),
		router.WithSink(eventflow.NewLoggerSink(cc.logger)),
	)
	if err != nil {
		return nil, nil, err
	}
	return rt, tracker, nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

var cli struct {
	Config  string `help:"Path to the configuration file." default:"eventflow.yaml" type:"path"`
	Verbose bool   `help:"Enable debug logging." short:"v"`

	Validate validateCmd `cmd:"" help:"Validate routing, handler, and workflow configuration."`
	Route    routeCmd    `cmd:"" help:"Resolve the handler for an event without executing it."`
	Run      runCmd      `cmd:"" help:"Submit an event, routing it and driving any bound workflow transition."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("eventflow"),
		kong.Description("Event routing and workflow orchestration."),
		kong.UsageOnError(),
	)

	level := "info"
	if cli.Verbose {
		level = "debug"
	}
	logger := glogCompat{logger: glog.NewLogger(
		glog.WithWriter(os.Stderr),
		glog.WithLevel(level),
	)}

	cfg, err := dispatcher.LoadConfig(cli.Config)
	if err != nil {
		logger.Fatal("load configuration: %v", err)
		os.Exit(1)
	}

	kctx.FatalIfErrorf(kctx.Run(&cliContext{logger: logger, cfg: cfg}))
}
