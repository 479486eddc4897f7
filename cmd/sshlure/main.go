package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r-smith/sshlure/internal/config"
	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/geoip"
	"github.com/r-smith/sshlure/internal/logmonitor"
	"github.com/r-smith/sshlure/internal/logrotate"
	"github.com/r-smith/sshlure/internal/monitor"
	"github.com/r-smith/sshlure/internal/sink"
	"github.com/r-smith/sshlure/internal/sshserver"
	"github.com/thejerf/suture/v4"
)

const (
	// drainTimeout bounds how long shutdown waits for active sessions.
	drainTimeout = 35 * time.Second

	// flushTimeout bounds how long shutdown waits for queued records.
	flushTimeout = 10 * time.Second

	// liveBuffer is how many record lines may wait for the live feed.
	liveBuffer = 100
)

func main() {
	if err := run(); err != nil {
		console.Errors(console.Main, "Shutting down: ", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags. Flags override the configuration file and
	// environment, but only when set explicitly.
	var (
		configPath    = flag.String("config", "", "Path to optional YAML configuration file")
		bindAddress   = flag.String("bind", config.DefaultBindAddress, "Address to listen on for the SSH honeypot")
		portSSH       = flag.Uint("port-ssh", config.DefaultPortSSH, "Port number to listen on for the SSH honeypot")
		banner        = flag.String("banner", config.DefaultBannerSSH, "SSH version banner sent to clients")
		proxyProtocol = flag.Bool("proxy-protocol", false, "Expect a PROXY protocol header on each connection")
		logPath       = flag.String("log", config.DefaultLogPath, "Path to the attack record log file")
		enableMonitor = flag.Bool("enable-monitor", config.DefaultEnableMonitor, "Enable the monitor server")
		portMonitor   = flag.Uint("port-monitor", config.DefaultPortMonitor, "Port number to listen on for the monitor server")
		ipstackKey    = flag.String("ipstack-key", "", "API key for the ipstack geolocation provider")
		logLevel      = flag.String("log-level", config.DefaultLogLevel, "Console log level (debug, info, warn, error)")
	)
	flag.Parse()

	// If the `-config` flag is not provided, use the default configuration
	// file from the current directory if the file exists.
	if len(*configPath) == 0 {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			*configPath = config.DefaultConfigPath
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bind":
			cfg.SSH.BindAddress = *bindAddress
		case "port-ssh":
			cfg.SSH.Port = uint16(*portSSH)
		case "banner":
			cfg.SSH.Banner = *banner
		case "proxy-protocol":
			cfg.SSH.UseProxyProtocol = *proxyProtocol
		case "log":
			cfg.Sinks.LogPath = *logPath
		case "enable-monitor":
			cfg.Monitor.Enabled = *enableMonitor
		case "port-monitor":
			cfg.Monitor.Port = uint16(*portMonitor)
		case "ipstack-key":
			cfg.Geo.IPStackAPIKey = *ipstackKey
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := console.Init(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if *configPath != "" {
		console.Info(console.Cfg, "Using configuration file: '%s'", *configPath)
	}

	// Assemble the record sinks. The JSON record log goes to the log file
	// and, when the monitor is enabled, to the live feed.
	var recordLog []io.Writer
	if cfg.Sinks.LogPath != "" {
		logFile, err := logrotate.OpenFile(cfg.Sinks.LogPath, cfg.Sinks.LogMaxSizeMB)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		recordLog = append(recordLog, logFile)
	}

	var live *logmonitor.Monitor
	if cfg.Monitor.Enabled {
		live = logmonitor.New(liveBuffer)
		recordLog = append(recordLog, live)
	}

	// Each sink gets its own queue so a slow backend only delays itself.
	sinks := sink.NewMulti()
	if len(recordLog) > 0 {
		sinks.AddQueued("jsonlog", sink.NewJSONLog(io.MultiWriter(recordLog...)), cfg.Sinks.BufferSize)
	}

	if cfg.Sinks.DBDriver != "" {
		db, err := sink.OpenSQL(cfg.Sinks.DBDriver, cfg.Sinks.DBDSN)
		if err != nil {
			_ = sinks.Close(context.Background())
			return fmt.Errorf("failed to open %s database: %w", cfg.Sinks.DBDriver, err)
		}
		sinks.AddQueued(cfg.Sinks.DBDriver, db, cfg.Sinks.BufferSize)
	}

	if cfg.Sinks.NATSURL != "" {
		nc, err := sink.NewNATS(cfg.Sinks.NATSURL, cfg.Sinks.NATSSubject)
		if err != nil {
			_ = sinks.Close(context.Background())
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		sinks.AddQueued("nats", nc, cfg.Sinks.BufferSize)
	}

	if cfg.Sinks.PushoverToken != "" && cfg.Sinks.PushoverRecipient != "" {
		sinks.AddQueued("pushover", sink.NewPushover(cfg.Sinks.PushoverToken, cfg.Sinks.PushoverRecipient), cfg.Sinks.BufferSize)
	}
	console.Info(console.Sink, "Recording attacks to %d sink(s)", sinks.Len())

	// The SSH listener is bound before anything is supervised so that a bind
	// failure stops the program.
	ssh := sshserver.New(cfg.SSH, geoip.FromConfig(cfg.Geo), sinks)
	if err := ssh.Listen(); err != nil {
		_ = sinks.Close(context.Background())
		return fmt.Errorf("failed to start SSH honeypot: %w", err)
	}

	sup := suture.New("sshlure", suture.Spec{
		EventHook: func(e suture.Event) {
			console.Warning(console.Main, "%s", e)
		},
	})
	sup.Add(&sshService{srv: ssh})
	if cfg.Monitor.Enabled {
		sup.Add(&monitorService{srv: monitor.New(cfg.Monitor, live.Channel)})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		console.Error(console.Main, "Supervisor stopped: %v", err)
	}
	console.Info(console.Main, "Shutting down")

	// Let active sessions emit their records, then flush the sinks.
	ssh.Stop()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := ssh.Wait(drainCtx); err != nil {
		console.Warning(console.SSH, "Sessions still active at shutdown: %v", err)
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), flushTimeout)
	defer cancelFlush()
	if err := sinks.Close(flushCtx); err != nil {
		console.Errors(console.Sink, "Failed to flush records: ", err)
	}
	return nil
}

// sshService supervises the SSH honeypot. The listener is bound once, so
// the service is not restarted after Serve returns.
type sshService struct {
	srv *sshserver.Server
}

func (s *sshService) Serve(ctx context.Context) error {
	if err := s.srv.Serve(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return suture.ErrDoNotRestart
}

func (s *sshService) String() string {
	return "ssh-honeypot"
}

// monitorService supervises the monitor server. Serve binds its own
// listener, so a failed server can be restarted.
type monitorService struct {
	srv *monitor.Server
}

func (m *monitorService) Serve(ctx context.Context) error {
	if err := m.srv.Serve(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *monitorService) String() string {
	return "monitor"
}
