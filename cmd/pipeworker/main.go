// pipeworker is a worker process driven over stdin/stdout by a parent.
//
// The parent sends load messages (activate a built-in module and bind its
// exports) and call messages (invoke a bound name); every message gets
// exactly one response. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pipeworker/config"
	"pipeworker/logging"
	"pipeworker/middleware"
	"pipeworker/module"
	"pipeworker/modules"
	"pipeworker/registry"
	"pipeworker/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "TOML configuration file")
	framing := flag.String("framing", "", "Output framing: unframed, sentinel or length")
	input := flag.String("input", "", "Input splitting for unframed/sentinel: chunk (one pipe read, at most 64 KiB) or line")
	codecName := flag.String("codec", "", "Codec for unframed/sentinel: json (cbor needs length framing)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: console or json")
	callTimeout := flag.Duration("call-timeout", 0, "Deadline handed to each message's context (0 disables)")
	searchPath := flag.String("search-path", "", "Initial module search directories, comma separated")
	etcd := flag.String("etcd", "", "etcd endpoints to announce this worker on, comma separated")
	service := flag.String("service", "", "Service name used for announcement")
	listModules := flag.Bool("list-modules", false, "List the built-in modules and exit")
	discover := flag.Bool("discover", false, "List the workers announced in etcd and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pipeworker [options]\n\n")
		fmt.Fprintf(os.Stderr, "Serves load/call messages on stdin, answering on stdout.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables %s* override the config file; flags override both.\n", config.EnvPrefix)
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "framing":
			cfg.Framing = *framing
		case "input":
			cfg.Input = *input
		case "codec":
			cfg.Codec = *codecName
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "call-timeout":
			cfg.CallTimeout = *callTimeout
		case "search-path":
			cfg.SearchPath = splitComma(*searchPath)
		case "etcd":
			cfg.EtcdEndpoints = splitComma(*etcd)
		case "service":
			cfg.ServiceName = *service
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	reg := module.NewRegistry()
	if err := modules.Register(reg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *listModules {
		for _, id := range reg.IDs() {
			def, _ := reg.Lookup(id)
			fmt.Printf("%-10s %s\n", id, def.Doc)
		}
		return 0
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer logger.Sync()

	if *discover {
		return runDiscover(cfg, logger)
	}

	// The protocol owns the real stdout. Anything else printing to
	// os.Stdout from here on lands on stderr.
	protoOut := os.Stdout
	os.Stdout = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []worker.Option{
		worker.WithReaderConfig(cfg.Reader()),
		worker.WithLogger(logger),
		worker.WithSearchPath(cfg.SearchPath...),
	}
	var announcer registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			logger.Error("etcd unavailable", zap.Error(err))
			return 1
		}
		defer etcdReg.Close()
		announcer = etcdReg
		opts = append(opts, worker.WithRegistry(etcdReg, cfg.ServiceName, cfg.EtcdTTL))
	}

	w := worker.New(reg, opts...)
	w.Use(middleware.Logging(logger))
	w.Use(middleware.Recover())
	if cfg.RateLimit > 0 {
		w.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.CallTimeout > 0 {
		w.Use(middleware.Timeout(cfg.CallTimeout))
	}

	served := make(chan error, 1)
	go func() {
		served <- w.Serve(ctx, os.Stdin, protoOut)
	}()

	select {
	case err := <-served:
		if err != nil {
			logger.Error("worker stopped", zap.Error(err))
			return 1
		}
		return 0
	case <-ctx.Done():
		// Serve may be blocked reading stdin; withdraw here instead of
		// waiting for it
		logger.Info("signal received, stopping")
		if announcer != nil {
			dctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := announcer.Deregister(dctx, cfg.ServiceName, w.ID()); err != nil {
				logger.Warn("deregister failed", zap.Error(err))
			}
		}
		return 0
	}
}

func runDiscover(cfg *config.Config, logger *zap.Logger) int {
	if len(cfg.EtcdEndpoints) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -discover needs etcd endpoints")
		return 2
	}
	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	instances, err := reg.Discover(ctx, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(instances); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
