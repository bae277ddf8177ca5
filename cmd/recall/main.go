// Command recall runs the hybrid retrieval service and offers a local
// query tool over its persistent store.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "recall",
		Usage:   "Hybrid keyword, vector and graph retrieval over per-user memory records",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"RECALL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging and index invariant checks",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Override server port",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Run a retrieval against the persistent store",
				ArgsUsage: "<query text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "user",
						Aliases:  []string{"u"},
						Usage:    "User whose records are searched",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results",
						Value:   10,
					},
					&cli.BoolFlag{
						Name:  "expand",
						Usage: "Expand the query with synonyms for keyword search",
					},
					&cli.BoolFlag{
						Name:  "no-rerank",
						Usage: "Order by fused score without the cross-encoder",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print results as JSON",
					},
				},
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.String())
					return nil
				},
			},
		},
	}
}

// buildOverrides maps command-line flags onto configuration keys.
func buildOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)

	if v := c.String("log-level"); v != "" {
		overrides["log.level"] = v
	}
	if c.Bool("debug") {
		overrides["app.debug"] = true
	}
	if c.IsSet("port") {
		overrides["server.port"] = c.Int("port")
	}

	return overrides
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), buildOverrides(c))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}
