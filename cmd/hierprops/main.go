package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/lthms/hierprops/internal/config"
	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
)

// CLI is the top-level command structure for hierprops.
type CLI struct {
	Config  string `type:"path" env:"HIERPROPS_CONFIG" help:"Path to config.toml (default: $XDG_CONFIG_HOME/hierprops/config.toml)."`
	Debug   bool   `env:"HIERPROPS_DEBUG" help:"Enable debug logging."`
	Backend string `env:"HIERPROPS_BACKEND" help:"Override the store backend (sqlite, badger, memory)."`
	DB      string `name:"db" type:"path" env:"HIERPROPS_DB" help:"Override the store path."`

	Root     RootCmd     `cmd:"" help:"Create a root node."`
	Child    ChildCmd    `cmd:"" help:"Create a child under a node."`
	Remove   RemoveCmd   `cmd:"" help:"Remove a node, promoting its children to its parent."`
	Detach   DetachCmd   `cmd:"" help:"Detach a node from its parent."`
	Attach   AttachCmd   `cmd:"" help:"Attach a detached node under a target."`
	Move     MoveCmd     `cmd:"" help:"Move a node under a target."`
	Assign   AssignCmd   `cmd:"" help:"Assign a property to an entity at a node."`
	Unassign UnassignCmd `cmd:"" help:"Remove a property assignment from a node."`
	Props    PropsCmd    `cmd:"" help:"List the properties an entity has at a node."`
	Entities EntitiesCmd `cmd:"" help:"List the entities holding a property at a node."`
	Node     NodeCmd     `cmd:"" help:"Show a node with its assignments and entries."`
	Forest   ForestCmd   `cmd:"" help:"Print the whole forest."`
	Repair   RepairCmd   `cmd:"" help:"Clear and regenerate the entries under a node."`
	Verify   VerifyCmd   `cmd:"" help:"Check the materialized index against a full recomputation."`
	Serve    ServeCmd    `cmd:"" help:"Serve the forest over HTTP."`
	MCP      MCPCmd      `cmd:"" name:"mcp" help:"Run the MCP server on stdio."`
}

// App is what every command runs against.
type App struct {
	Config *config.Config
	Engine *engine.Engine
	Out    io.Writer
	Logs   *ringBuffer
}

func main() {
	cli := CLI{}
	parser, err := kong.New(&cli,
		kong.Name("hierprops"),
		kong.Description("Hierarchical property assignments with a materialized nearest-definition index."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			os.Exit(code)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hierprops: %v\n", err)
		os.Exit(1)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cfg, err := cli.loadConfig()
	parser.FatalIfErrorf(err)

	logs := newRingBuffer(500)
	setupLogger(cfg.Log.Level, cli.Debug, logs)

	store, err := openStore(cfg)
	parser.FatalIfErrorf(err)
	defer store.Close()

	app := &App{
		Config: cfg,
		Engine: engine.New(store, engine.WithName(cfg.Name), engine.WithLogger(slog.Default())),
		Out:    os.Stdout,
		Logs:   logs,
	}
	ctx.Bind(app)

	err = ctx.Run()
	if err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "hierprops: %s: %v\n", hierarchy.KindOf(err), err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func (cli *CLI) loadConfig() (*config.Config, error) {
	path := cli.Config
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cli.Backend != "" {
		cfg.Store.Backend = cli.Backend
	}
	if cli.DB != "" {
		cfg.Store.Path = cli.DB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
