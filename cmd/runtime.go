package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/reviewmate/internal/config"
	"github.com/reviewmate/internal/conversation"
	"github.com/reviewmate/internal/diagram"
	"github.com/reviewmate/internal/logging"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
	"github.com/reviewmate/internal/providers/github"
	"github.com/reviewmate/internal/relay"
)

// loadConfig loads env files, the configuration and sets up logging from the
// global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := LoadEnvFiles(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.General.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logging.Setup(logging.Options{
		Level:  level,
		Pretty: cfg.General.LogPretty || c.Bool("pretty"),
		Output: c.App.ErrWriter,
	})
	if cfg.Path != "" {
		log.Debug().Str("path", cfg.Path).Msg("Loaded configuration")
	}
	return cfg, nil
}

// runtime holds the components built from the configuration.
type runtime struct {
	cfg      *config.Config
	host     providers.CodeHost
	store    conversation.Store
	cache    *prcontext.RepoWideCache
	renderer diagram.Renderer
	closers  []func() error
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cache, err := prcontext.NewRepoWideCache(cfg.Cache.RepoWideEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository-wide cache: %w", err)
	}
	rt := &runtime{cfg: cfg, cache: cache}

	rt.host, err = github.New(cfg.GitHub)
	if err != nil {
		return nil, fmt.Errorf("failed to create code host: %w", err)
	}

	if dsn := strings.TrimSpace(cfg.Storage.DatabaseURL); dsn != "" {
		store, err := conversation.OpenSQLStore(dsn, cfg.Storage.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		rt.store = store
		rt.closers = append(rt.closers, store.Close)
	} else {
		rt.store = conversation.NewMemoryStore(cfg.Storage.HistoryLimit)
	}

	if cfg.Diagram.Command != "" {
		renderer, err := diagram.NewCachingRenderer(diagram.CLIRenderer{Command: cfg.Diagram.Command, Args: cfg.Diagram.Args}, cfg.Diagram.CacheSize)
		if err != nil {
			return nil, err
		}
		rt.renderer = renderer
	}
	return rt, nil
}

func (rt *runtime) settings() relay.SettingsSource {
	return relay.StaticSettings(rt.cfg.Model)
}

func (rt *runtime) assembler() *prcontext.Assembler {
	return prcontext.NewAssembler(rt.host,
		prcontext.WithLimits(rt.cfg.Context),
		prcontext.WithCache(rt.cache),
	)
}

func (rt *runtime) Close() {
	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
}
