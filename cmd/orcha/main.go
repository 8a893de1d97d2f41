// Command orcha is the top-level CLI named by spec §6: global flags, two
// subcommands (serve|s|srv, run|r) each routing to a discovered plugin by
// name, and the 0/1/127 exit-code contract. Grounded on the only complete
// example repo with a CLI entrypoint, coatyio-dda-examples/compute's
// cmd/coordinator/coordinator.go: stdlib flag, a custom flag.Usage,
// os/signal-driven graceful shutdown through a cancellable
// context.Context.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/orchaframework/orcha/config"
	"github.com/orchaframework/orcha/engine"
	"github.com/orchaframework/orcha/internal/orchalog"
	"github.com/orchaframework/orcha/ipc"
	"github.com/orchaframework/orcha/petition"
	"github.com/orchaframework/orcha/plugin"
	_ "github.com/orchaframework/orcha/plugin/builtin"
)

// version is overwritten at build time via -ldflags -X, the idiomatic Go
// analogue of the original package's __version__ (bin/main.py's
// `version("orcha")` call).
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("orcha", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	listenAddress := fs.String("listen-address", config.DefaultListenAddress, "listen address of the service")
	port := fs.Int("port", config.DefaultPort, "listen port of the service")
	key := fs.String("key", "", "pre-shared authentication key; if empty, no authentication is enforced")
	maxWorkers := fs.Int("max-workers", 0, "maximum concurrent petition actions; 0 uses a CPU-count heuristic")
	lookAhead := fs.Int("look-ahead-items", config.DefaultLookAhead, "items to peek past the ready queue's head during admission")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *showVersion {
		fmt.Printf("orcha - %s\n", version)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 1
	}

	var isClient bool
	switch rest[0] {
	case "serve", "s", "srv":
		isClient = false
	case "run", "r":
		isClient = true
	default:
		fmt.Fprintf(os.Stderr, "orcha: unrecognized command %q\n", rest[0])
		fs.Usage()
		return 1
	}
	rest = rest[1:]

	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "orcha: missing plugin name")
		return 127
	}
	p, ok := plugin.Lookup(rest[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "orcha: no plugin named %q (available: %v)\n", rest[0], plugin.Names())
		return 127
	}
	rest = rest[1:]

	cfg := config.Default()
	cfg.ListenAddress = *listenAddress
	cfg.Port = *port
	cfg.AuthKey = *key
	cfg.LookAhead = *lookAhead
	if *maxWorkers > 0 {
		cfg.MaxWorkers = *maxWorkers
	}

	log := orchalog.New(os.Stderr, zerolog.InfoLevel)

	if isClient {
		return runClient(p, cfg, log, rest)
	}
	return runServer(p, cfg, log)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `usage: orcha [flags] serve|s|srv <plugin> [plugin args...]
       orcha [flags] run|r <plugin> [plugin args...]

Flags:
`)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nAvailable plugins: %v\n", plugin.Names())
}

// runServer starts the IPC server driving p's manager against the engine,
// blocking until SIGTERM/SIGINT initiates graceful shutdown (spec §6).
func runServer(p plugin.Plugin, cfg config.Config, log zerolog.Logger) int {
	mgr := p.NewManager()
	eng := engine.New(cfg, mgr, mgr.Hooks(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start engine")
		return 1
	}

	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("failed to listen")
		return 1
	}

	srv := ipc.NewServer(eng, cfg.AuthKey, log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("address", addr).Msg("orcha serving")

	ret := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("ipc server exited")
			ret = 1
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown reported an error")
		ret = 1
	}
	return ret
}

// runClient dials a running server, submits the message p builds from the
// remaining arguments, and streams frames to stdout until the terminal
// frame, exiting with its return code (or 1 on a transport failure).
func runClient(p plugin.Plugin, cfg config.Config, log zerolog.Logger, args []string) int {
	msg, err := p.ClientMessage(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := ipc.Dial(ctx, addr, cfg.AuthKey)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("failed to connect")
		return 1
	}
	defer client.Close()

	exitCode := 0
	err = client.Submit(msg, func(frame petition.Frame) {
		switch frame.Kind {
		case petition.FrameChunk:
			fmt.Println(frame.Chunk)
		case petition.FrameCode:
			exitCode = frame.Code
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("submit failed")
		return 1
	}
	return exitCode
}
