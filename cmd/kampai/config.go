// cmd/kampai/config.go
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jason-s-yu/kampai/internal/discovery"
	"github.com/jason-s-yu/kampai/internal/game"
	"github.com/jason-s-yu/kampai/internal/network"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	name             string
	port             int
	discoveryPort    int
	discoveryTimeout time.Duration
	advertise        string
	logLevel         string
	logFile          string

	// host only
	table          string
	handSize       int
	stacking       bool
	noSpecialEnd   bool
	turnSeconds    int
	penaltySeconds int
	restore        string
	databaseURL    string
	redis          bool
	actionTTL      time.Duration
	uiAddr         string
	tokenTTL       string
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.name) == "" {
		return errors.New("a player name is required (--name)")
	}
	if strings.Contains(c.name, "\n") {
		return errors.New("player name may not contain newlines")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.discoveryPort < 1 || c.discoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port (must be between 1-65535 inclusive): %d", c.discoveryPort)
	}
	if c.port == c.discoveryPort {
		return fmt.Errorf("--port and --discovery-port must differ: %d", c.port)
	}
	if _, err := logrus.ParseLevel(c.logLevel); err != nil {
		return err
	}
	return nil
}

// rules builds the lobby's starting rules from the flags.
func (c *Config) rules() (game.RuleConfig, error) {
	rules := game.DefaultRuleConfig()
	rules.InitialHandSize = c.handSize
	rules.AllowStackingPlusCards = c.stacking
	rules.CantFinishWithSpecial = c.noSpecialEnd
	rules.TurnDurationSeconds = c.turnSeconds
	rules.KampaiPenaltySeconds = c.penaltySeconds
	return rules, rules.Validate()
}

// logger writes to --log-file when set, otherwise to stderr. Interactive play keeps
// stderr quiet below warnings so log lines do not tear the rendered table.
func (c *Config) logger(interactive bool) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	closer := func() {}
	var out io.Writer = os.Stderr
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = func() { _ = f.Close() }
	} else if interactive && level > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	logger.SetOutput(out)
	return logger, closer, nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("KAMPAI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "kampai",
		Short:         "Play a shedding card game with friends on the same network.",
		SilenceErrors: true,
		Version:       releaseVersion,
	}

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalize)
	defaultName, _ := os.Hostname()
	pfs.StringVarP(&cfg.name, "name", "n", defaultName, "your player name (env: KAMPAI_NAME)")
	pfs.IntVarP(&cfg.port, "port", "p", network.DefaultPort, "TCP port of the table (env: KAMPAI_PORT)")
	pfs.IntVar(&cfg.discoveryPort, "discovery-port", discovery.DefaultPort, "UDP port for host announcements (env: KAMPAI_DISCOVERY_PORT)")
	pfs.DurationVar(&cfg.discoveryTimeout, "discovery-timeout", discovery.DefaultTimeout, "how long to listen for hosts (env: KAMPAI_DISCOVERY_TIMEOUT)")
	pfs.StringVar(&cfg.advertise, "advertise", "", "address to announce instead of the detected LAN address (env: KAMPAI_ADVERTISE)")
	pfs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error (env: KAMPAI_LOG_LEVEL)")
	pfs.StringVar(&cfg.logFile, "log-file", "", "write logs to this file instead of stderr (env: KAMPAI_LOG_FILE)")
	bindFlags(v, pfs)

	cmd.AddCommand(
		newHostCmd(cfg, v),
		newJoinCmd(cfg),
		newDiscoverCmd(cfg),
		newRosterCmd(cfg, v),
		newArchiveCmd(cfg, v),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("kampai v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newHostCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Open a table on this machine and announce it on the LAN.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg)
		},
	}

	defaults := game.DefaultRuleConfig()
	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)
	fs.StringVarP(&cfg.table, "table", "t", "", "table name shown to players (env: KAMPAI_TABLE)")
	fs.IntVar(&cfg.handSize, "hand-size", defaults.InitialHandSize, "cards dealt to each player (env: KAMPAI_HAND_SIZE)")
	fs.BoolVar(&cfg.stacking, "stacking", defaults.AllowStackingPlusCards, "allow draw cards to be stacked (env: KAMPAI_STACKING)")
	fs.BoolVar(&cfg.noSpecialEnd, "no-special-finish", defaults.CantFinishWithSpecial, "forbid winning on an action card (env: KAMPAI_NO_SPECIAL_FINISH)")
	fs.IntVar(&cfg.turnSeconds, "turn-seconds", defaults.TurnDurationSeconds, "turn timer, 0 disables it (env: KAMPAI_TURN_SECONDS)")
	fs.IntVar(&cfg.penaltySeconds, "penalty-seconds", defaults.KampaiPenaltySeconds, "length of the kampai challenge window (env: KAMPAI_PENALTY_SECONDS)")
	fs.StringVar(&cfg.restore, "restore", "", "reopen a saved roster by id (env: KAMPAI_RESTORE)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres URL for saved rosters; DATABASE_URL is also honoured (env: KAMPAI_DATABASE_URL)")
	fs.BoolVar(&cfg.redis, "redis", false, "record every applied action to Redis at REDIS_ADDR (env: KAMPAI_REDIS)")
	fs.DurationVar(&cfg.actionTTL, "action-ttl", 7*24*time.Hour, "how long recorded action logs are kept (env: KAMPAI_ACTION_TTL)")
	fs.StringVar(&cfg.uiAddr, "ui", "", "serve the websocket UI bridge on this address, e.g. 127.0.0.1:8080 (env: KAMPAI_UI)")
	fs.StringVar(&cfg.tokenTTL, "token-ttl", "12h", "lifetime of UI seat tokens, never disables expiry (env: KAMPAI_TOKEN_TTL)")
	bindFlags(v, fs)

	return cmd
}

func newJoinCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join [host-ip]",
		Short: "Join a table, discovering it on the LAN when no address is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runJoin(cmd.Context(), cfg, target)
		},
	}
}

func newDiscoverCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List tables announcing themselves on the LAN.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runDiscover(cmd.Context(), cfg)
		},
	}
}

func newRosterCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster [id]",
		Short: "List saved rosters, or show one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runRoster(cmd.Context(), cfg, id)
		},
	}
	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres URL for saved rosters; DATABASE_URL is also honoured (env: KAMPAI_DATABASE_URL)")
	bindFlags(v, fs)
	return cmd
}

func normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// bindFlags lets KAMPAI_* environment variables supply any flag not given on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
