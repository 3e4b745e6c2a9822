// cmd/kampai/host.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/kampai/internal/auth"
	"github.com/jason-s-yu/kampai/internal/cache"
	"github.com/jason-s-yu/kampai/internal/database"
	"github.com/jason-s-yu/kampai/internal/discovery"
	"github.com/jason-s-yu/kampai/internal/handlers"
	"github.com/jason-s-yu/kampai/internal/lobby"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/network"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

func runHost(ctx context.Context, cfg *Config) error {
	logger, closeLog, err := cfg.logger(true)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logrus.NewEntry(logger).WithField("role", "host")

	rules, err := cfg.rules()
	if err != nil {
		return err
	}
	self := models.NewPlayerInfo(cfg.name, true)

	store, closeStore, err := openRosterStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var recorder session.Recorder
	if cfg.redis {
		rdb, err := cache.Connect(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()
		recorder = cache.NewActionLog(rdb, cfg.actionTTL)
		log.Info("Recording actions to Redis")
	}

	table := cfg.table
	if table == "" {
		table = cfg.name + "'s table"
	}
	host := session.NewHost(session.HostConfig{
		Self:      self,
		TableName: table,
		Rules:     rules,
		Store:     store,
		Recorder:  recorder,
		Log:       log,
	})
	defer host.Close()

	if cfg.restore != "" {
		id, err := uuid.Parse(cfg.restore)
		if err != nil {
			return fmt.Errorf("invalid roster id %q: %w", cfg.restore, err)
		}
		expected, err := host.RestoreRoster(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to restore roster: %w", err)
		}
		pterm.Info.Printfln("Restored %q; waiting for %d players to reconnect", host.Lobby().Name, len(expected)-1)
	}

	mgr := network.NewManager(host, log)
	host.Attach(mgr)
	addr, err := mgr.Listen(net.JoinHostPort("", strconv.Itoa(cfg.port)))
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := mgr.Serve(ctx); err != nil {
			log.WithError(err).Error("Connection manager stopped")
		}
	}()

	ip := cfg.advertise
	if ip == "" {
		if ip, err = discovery.LocalIP(); err != nil {
			return fmt.Errorf("could not detect a LAN address, pass --advertise: %w", err)
		}
	}
	go func() {
		b := discovery.NewBroadcaster(cfg.name, ip, cfg.discoveryPort, log)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Discovery broadcaster stopped")
		}
	}()

	if cfg.uiAddr != "" {
		if err := serveUI(ctx, cfg, host, logger); err != nil {
			return err
		}
	}

	printBanner()
	pterm.Success.Printfln("Hosting %q on %s (announcing %s)", host.Lobby().Name, addr, ip)

	return play(ctx, host, nil)
}

// openRosterStore uses Postgres when a URL is configured and memory otherwise.
func openRosterStore(ctx context.Context, cfg *Config, log *logrus.Entry) (lobby.RosterStore, func(), error) {
	url := cfg.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return lobby.NewMemoryStore(), func() {}, nil
	}
	pool, err := database.Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	repo := database.NewRosterRepo(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("Saving rosters to Postgres")
	return repo, pool.Close, nil
}

// serveUI starts the websocket bridge and prints the local URL with a seat token.
func serveUI(ctx context.Context, cfg *Config, p session.Participant, logger *logrus.Logger) error {
	ttl, err := auth.ParseTokenTTL(cfg.tokenTTL)
	if err != nil {
		return err
	}
	seats, err := auth.NewSeatSigner(ttl)
	if err != nil {
		return err
	}
	ui := handlers.NewUIServer(p, seats, logrus.NewEntry(logger).WithField("component", "ui"))
	srv := &http.Server{Addr: cfg.uiAddr, Handler: ui.Routes(), ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", cfg.uiAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for UI on %s: %w", cfg.uiAddr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("UI bridge stopped")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	token, err := seats.CreateSeatToken(p.Self().ID)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("UI bridge: ws://%s/ui/ws?token=%s", ln.Addr(), token)
	return nil
}
