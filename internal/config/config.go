// Package config reads command line flags, falling back to KINO_* variables
// from the environment or an env file for every flag not given explicitly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"kino/internal/ipc"
	"kino/pkg/protocol"
)

const envPrefix = "KINO_"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

type Config struct {
	EnvFile string

	Origin         string
	Proxy          string
	ReconnectDelay time.Duration
	ReplyTimeout   time.Duration
	MaxClip        time.Duration

	HistoryDir   string
	PrintHistory bool
	HistoryLimit int

	Duck       bool
	DuckFactor float64

	Socket   string
	Headless bool

	LogLevel string
	LogFile  string
}

// Level is the slog level named by LogLevel.
func (c *Config) Level() log.Level {
	return logLevelMap[c.LogLevel]
}

// Endpoint is the websocket URL derived from Origin.
func (c *Config) Endpoint() string {
	u, _ := protocol.Endpoint(c.Origin)
	return u
}

func newFlagSet(c *Config) *cli.FlagSet {
	fset := cli.NewFlagSet("kino", cli.ContinueOnError)

	fset.StringVarP(&c.EnvFile, "env", "e", ".env", "Env file path")
	fset.StringVarP(&c.Origin, "origin", "o", "http://localhost:8000", "Backend origin (http, https, ws or wss)")
	fset.StringVarP(&c.Proxy, "proxy", "p", "", "Socks5 proxy address, direct when empty")
	fset.DurationVar(&c.ReconnectDelay, "reconnect", 3*time.Second, "Delay before reconnecting a closed connection")
	fset.DurationVar(&c.ReplyTimeout, "reply-timeout", 60*time.Second, "Give up waiting for a reply after this long, 0 waits forever")
	fset.DurationVar(&c.MaxClip, "max-clip", 60*time.Second, "Longest clip recorded per gesture")
	fset.StringVar(&c.HistoryDir, "history-dir", "", "Journal exchanges into this directory")
	fset.BoolVar(&c.PrintHistory, "print-history", false, "Print the journal and exit")
	fset.IntVar(&c.HistoryLimit, "history-limit", 20, "Entries shown by --print-history, 0 for all")
	fset.BoolVarP(&c.Duck, "duck", "d", false, "Lower other applications while listening or speaking")
	fset.Float64Var(&c.DuckFactor, "duck-factor", 0.3, "Volume factor applied by --duck")
	fset.StringVarP(&c.Socket, "socket", "s", ipc.DefaultSocketPath, "Control socket path, empty disables it")
	fset.BoolVar(&c.Headless, "headless", false, "Run without the terminal UI")
	fset.StringVarP(&c.LogLevel, "log", "l", "info", "Log level")
	fset.StringVar(&c.LogFile, "log-file", "kino.log", "Log file used while the terminal UI runs")

	return fset
}

// EnvName is the variable consulted for a flag, e.g. KINO_REPLY_TIMEOUT.
func EnvName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func Parse(args []string) (*Config, error) {
	c := &Config{}
	fset := newFlagSet(c)

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(c.EnvFile); err != nil {
		// a missing default env file is fine
		if fset.Changed("env") || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env %s: %w", c.EnvFile, err)
		}
	}

	var envErr error
	fset.VisitAll(func(f *cli.Flag) {
		if f.Changed || f.Name == "env" || envErr != nil {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if err := fset.Set(f.Name, v); err != nil {
			envErr = fmt.Errorf("%s: %w", EnvName(f.Name), err)
		}
	})
	if envErr != nil {
		return nil, envErr
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if _, ok := logLevelMap[c.LogLevel]; !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if _, err := protocol.Endpoint(c.Origin); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.ReplyTimeout < 0 {
		return errors.New("reply timeout must not be negative")
	}
	if c.MaxClip <= 0 {
		return errors.New("max clip must be positive")
	}
	if c.DuckFactor <= 0 || c.DuckFactor > 1 {
		return fmt.Errorf("duck factor %v out of (0, 1]", c.DuckFactor)
	}
	if c.PrintHistory && c.HistoryDir == "" {
		return errors.New("--print-history needs --history-dir")
	}
	return nil
}
