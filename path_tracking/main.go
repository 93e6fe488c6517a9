package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"mpc-path-tracker/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "config/path_tracking.json", "Tracker config JSON; empty uses built-in defaults")
		logLevel = flag.String("log", "info", "trace|debug|info|warn|error|critical")
		logFile  = flag.String("logfile", "path_tracking.log", "Log file path")
		listen   = flag.String("listen", "", "Override server.listen_addr")
		iface    = flag.String("iface", "", "Override can.iface and enable the CAN bridge")
	)
	flag.Parse()

	log, err := utils.NewFileLogger(*logFile, utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	cfg := DefaultConfig()
	if *cfgPath != "" {
		cfg, err = LoadConfig(*cfgPath)
		if err != nil {
			log.Critical("Config %s: %v", *cfgPath, err)
			os.Exit(1)
		}
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *iface != "" {
		cfg.CAN.Iface = *iface
		cfg.CAN.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}
