package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lockforge/lockd/internal/config"
	httpservice "github.com/lockforge/lockd/internal/interface/http"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "lockd"
	app.Usage = "governance locking ledger with gauge voting and epoch rewards"
	app.Flags = config.Flags
	app.Action = mainAction
	app.Commands = append(app.Commands,
		infoCmd,
		totalsCmd,
		positionCmd,
		gaugeCmd,
		distributionCmd,
		rewardsCmd,
	)

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svc, err := httpservice.NewService(httpservice.Config{
		Port:        cfg.Port,
		EnablePprof: cfg.EnablePprof,
	}, cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	log.Infof("lockd config: %s", cfg)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)

	return nil
}
