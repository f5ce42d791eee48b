package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/crm-bulk-client/pkg/config"
	"github.com/Sternrassler/crm-bulk-client/pkg/crm"
	"github.com/Sternrassler/crm-bulk-client/pkg/logging"
	"github.com/Sternrassler/crm-bulk-client/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	flagConfig    = "config"
	flagBaseURL   = "base-url"
	flagToken     = "token"
	flagUserAgent = "user-agent"
	flagRedis     = "redis"
	flagPool      = "pool"
	flagLogLevel  = "log-level"
	flagPretty    = "pretty"
	flagQuiet     = "quiet"
	flagJSON      = "json"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		code := 1
		if exit, ok := err.(cli.ExitCoder); ok {
			code = exit.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "crm-bulk",
		Usage:     "bulk lookups, scans, updates and searches against the CRM REST API",
		Writer:    stdout,
		ErrWriter: stderr,
		// main reports the error and picks the exit status.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: flagBaseURL, Usage: "CRM API root (overrides config and " + config.EnvBaseURL + ")"},
			&cli.StringFlag{Name: flagToken, Usage: "OAuth access token (overrides " + config.EnvToken + ")"},
			&cli.StringFlag{Name: flagUserAgent, Usage: "User-Agent header (overrides " + config.EnvUserAgent + ")"},
			&cli.StringFlag{Name: flagRedis, Usage: "Redis URL or host:port enabling the credit guard (overrides " + config.EnvRedisURL + ")"},
			&cli.IntFlag{Name: flagPool, Usage: "maximum concurrent CRM calls"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: flagPretty, Usage: "human-readable log output"},
			&cli.BoolFlag{Name: flagQuiet, Aliases: []string{"q"}, Usage: "hide progress bars"},
			&cli.BoolFlag{Name: flagJSON, Usage: "print results as JSON"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			lookupCommand(),
			scanCommand(),
			updateCommand(),
			searchCommand(),
			criteriaCommand(),
		},
	}
}

// loadConfig reads the config file (if any), then environment, then flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.NewConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	if v := c.String(flagBaseURL); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := c.String(flagToken); v != "" {
		cfg.CRM.Token = v
	}
	if v := c.String(flagUserAgent); v != "" {
		cfg.CRM.UserAgent = v
	}
	if v := c.String(flagRedis); v != "" {
		cfg.Redis.URL = v
	}
	if v := c.Int(flagPool); v != 0 {
		cfg.Dispatcher.PoolSize = v
	}
	if v := c.String(flagLogLevel); v != "" {
		cfg.Log.Level = logging.LogLevel(v)
	}
	if c.Bool(flagPretty) {
		cfg.Log.Pretty = true
	}

	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is everything a command needs to talk to the CRM.
type session struct {
	cfg       *config.Config
	client    *crm.Client
	transport *transport.Client
	redis     *redis.Client
	closers   []io.Closer
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.Output = c.App.ErrWriter
	_, logFiles, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, closers: []io.Closer{logFiles}}

	s.redis, err = cfg.RedisClient()
	if err != nil {
		s.Close()
		return nil, err
	}
	if s.redis != nil {
		if err := s.redis.Ping(c.Context).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.closers = append(s.closers, s.redis)
		log.Info().Str("redis", cfg.Redis.URL).Msg("Connected to Redis")
	}

	s.transport, err = transport.New(cfg.TransportConfig(s.redis))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.transport)

	s.client, err = crm.New(s.transport, cfg.ClientConfig())
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *session) Close() {
	if s.client != nil {
		s.client.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}
