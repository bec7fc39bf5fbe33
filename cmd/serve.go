package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/api"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ReviewMate server for the browser panel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides server.addr)",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr := rt.cfg.Server.Addr
			if c.IsSet("addr") {
				addr = c.String("addr")
			}

			server, err := api.NewServer(api.Options{
				Addr:           addr,
				Host:           rt.host,
				Store:          rt.store,
				Settings:       rt.settings(),
				Limits:         rt.cfg.Context,
				RepoWideCache:  rt.cache,
				Renderer:       rt.renderer,
				AllowedOrigins: rt.cfg.Server.AllowedOrigins,
				Sessions:       rt.cfg.Server.Sessions,
			})
			if err != nil {
				return err
			}
			return server.Start(c.Context)
		},
	}
}
