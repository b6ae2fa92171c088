package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the CLI contract of spec.md §6, returning the process
// exit code directly rather than calling os.Exit itself so it stays
// testable.
func run(args []string) int {
	fs := flag.NewFlagSet("sdr-ip-gadget", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		debug      bool
		showHelp   bool
		showVer    bool
		configPath string
		simulate   bool
	)
	fs.BoolVar(&debug, "d", false, "enable verbose per-component logging")
	fs.BoolVar(&debug, "debug", false, "enable verbose per-component logging")
	fs.BoolVar(&showHelp, "h", false, "print usage and exit")
	fs.BoolVar(&showHelp, "help", false, "print usage and exit")
	fs.BoolVar(&showVer, "v", false, "print version and exit")
	fs.BoolVar(&showVer, "version", false, "print version and exit")
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.BoolVar(&simulate, "simulate", false, "use an in-memory simulated radio instead of real hardware")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if showHelp {
		fs.Usage()
		return 0
	}
	if showVer {
		fmt.Println(versionString())
		return 0
	}

	DebugMode = debug
	log := newComponentLogger("Main")

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Printf("config error: %v", err)
		return 1
	}
	cfg.RXCPU = clampCPU(cfg.RXCPU, log, "rx")
	cfg.TXCPU = clampCPU(cfg.TXCPU, log, "tx")

	if simulate {
		log.Printf("running in -simulate mode: no real radio hardware will be used")
		registerSimulatedDevices(cfg.RXDevice, cfg.TXDevice)
	}

	sup, err := newSupervisor(cfg, log)
	if err != nil {
		log.Printf("startup failed: %v", err)
		return 1
	}

	reporter := newStatsReporter(newComponentLogger("Stats"), time.Duration(cfg.StatsIntervalSecs)*time.Second, sup.statsRX, sup.statsTX)

	var metrics *prometheusMetrics
	if cfg.Prometheus.Enabled {
		metrics = newPrometheusMetrics(cfg.Prometheus.ListenAddr)
		reporter.metrics = metrics
		go func() {
			if err := metrics.listenAndServe(); err != nil {
				log.Printf("prometheus server stopped: %v", err)
			}
		}()
	}

	var publisher *mqttPublisher
	if cfg.MQTT.Enabled {
		publisher = newMQTTPublisher(newComponentLogger("MQTT"), cfg.MQTT)
		reporter.mqtt = publisher
	}

	var status *statusServer
	if cfg.StatusWS.Enabled {
		status = newStatusServer(newComponentLogger("StatusWS"), cfg.StatusWS.ListenAddr)
		reporter.status = status
		go func() {
			if err := status.listenAndServe(); err != nil {
				log.Printf("status websocket server stopped: %v", err)
			}
		}()
	}

	reporterCancel := make(chan struct{})
	go reporter.run(reporterCancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down", sig)
		sup.requestTerminate()
	}()

	runErr := sup.run()

	close(reporterCancel)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metrics != nil {
		metrics.shutdown(shutdownCtx)
	}
	if status != nil {
		status.shutdown(shutdownCtx)
	}
	if publisher != nil {
		publisher.close()
	}

	if runErr != nil {
		log.Printf("fatal: %v", runErr)
		return 1
	}
	return 0
}
