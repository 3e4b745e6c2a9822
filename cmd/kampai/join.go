// cmd/kampai/join.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/jason-s-yu/kampai/internal/discovery"
	"github.com/jason-s-yu/kampai/internal/models"
	"github.com/jason-s-yu/kampai/internal/session"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

func runJoin(ctx context.Context, cfg *Config, target string) error {
	logger, closeLog, err := cfg.logger(true)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logrus.NewEntry(logger).WithField("role", "client")

	if target == "" {
		if target, err = chooseHost(ctx, cfg, log); err != nil {
			return err
		}
	}
	addr := target
	if _, _, err := net.SplitHostPort(target); err != nil {
		addr = net.JoinHostPort(target, strconv.Itoa(cfg.port))
	}

	spinner, _ := pterm.DefaultSpinner.Start("Joining table at " + addr)
	client, err := session.Join(ctx, addr, models.NewPlayerInfo(cfg.name, false), log)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	defer client.Close()
	spinner.Success("Joined " + addr)

	printBanner()
	if err := play(ctx, client, client.Done()); err != nil {
		return err
	}
	select {
	case <-client.Done():
		if err := client.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	default:
	}
	return nil
}

// chooseHost listens for announcements and lets the player pick one when several answer.
func chooseHost(ctx context.Context, cfg *Config, log *logrus.Entry) (string, error) {
	hosts, err := discover(ctx, cfg, log)
	if err != nil {
		return "", err
	}
	switch len(hosts) {
	case 0:
		return "", errors.New("no tables found on the LAN; pass the host address to join")
	case 1:
		return hosts[0].HostIP, nil
	}
	options := make([]string, len(hosts))
	for i, h := range hosts {
		options[i] = fmt.Sprintf("%s (%s)", h.HostName, h.HostIP)
	}
	choice, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show("Pick a table")
	if err != nil {
		return "", err
	}
	for i, o := range options {
		if o == choice {
			return hosts[i].HostIP, nil
		}
	}
	return "", errors.New("no table selected")
}

func discover(ctx context.Context, cfg *Config, log *logrus.Entry) ([]discovery.Host, error) {
	spinner, _ := pterm.DefaultSpinner.Start("Looking for tables...")
	hosts, err := discovery.Listen(ctx, discovery.ListenOptions{
		Port:    cfg.discoveryPort,
		Timeout: cfg.discoveryTimeout,
		SelfIP:  cfg.advertise,
		Log:     log,
	})
	if err != nil {
		spinner.Fail(err.Error())
		return nil, err
	}
	spinner.Success(fmt.Sprintf("Found %d table(s)", len(hosts)))
	return hosts, nil
}

func runDiscover(ctx context.Context, cfg *Config) error {
	logger, closeLog, err := cfg.logger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	hosts, err := discover(ctx, cfg, logrus.NewEntry(logger))
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		pterm.Warning.Println("No tables are announcing on this network.")
		return nil
	}
	data := pterm.TableData{{"Host", "Address", "Heard from", "Last seen"}}
	for _, h := range hosts {
		data = append(data, []string{h.HostName, h.HostIP, h.Source, h.SeenAt.Format("15:04:05")})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
