package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/beamlab/beamcast"
	"github.com/beamlab/beamcast/capture"
	"github.com/beamlab/beamcast/cmdmain"
	"github.com/beamlab/beamcast/codec"
	"github.com/beamlab/beamcast/config"
	beamhttp "github.com/beamlab/beamcast/http"
	ihttp "github.com/beamlab/beamcast/internal/http"
	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/session"
	"github.com/beamlab/beamcast/transport"
)

func init() {
	cmdmain.RegisterSubCmd("send", func() cmdmain.SubCmd { return new(Send) })
}

type Send struct{}

// Help implements cmdmain.SubCmd.
func (s *Send) Help() string {
	return "Capture the screen and stream it to the multicast group"
}

// Exec implements cmdmain.SubCmd.
func (s *Send) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)

	var envFile string
	fs.StringVar(&envFile, "env", ".env", "Env file with BEAMCAST_* settings")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Capture the screen and stream it to the multicast group

Usage:
	%s send [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}

	// Peek at -env before defining the remaining flags so their defaults
	// reflect the loaded settings.
	envFile = envFileFromArgs(args, envFile)
	cfg := config.Load(envFile)

	fs.StringVar(&cfg.Group, "group", cfg.Group, "Multicast group address and port")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Maximum chunk payload size in bytes")
	fs.IntVar(&cfg.TTL, "ttl", cfg.TTL, "Multicast TTL")
	fs.IntVar(&cfg.TargetFPS, "fps", cfg.TargetFPS, "Initial target frame rate")
	fs.IntVar(&cfg.MinFPS, "min-fps", cfg.MinFPS, "Lower bound of the adaptive frame rate")
	fs.IntVar(&cfg.MaxFPS, "max-fps", cfg.MaxFPS, "Upper bound of the adaptive frame rate")
	fs.IntVar(&cfg.JPEGQuality, "quality", cfg.JPEGQuality, "JPEG quality (1-100)")
	fs.IntVar(&cfg.MaxWidth, "max-width", cfg.MaxWidth, "Downscale frames wider than this, 0 disables")
	fs.StringVar(&cfg.APIAddr, "api-address", cfg.APIAddr, "Address of the stats/metrics HTTP API, empty disables it")

	backendName := fs.String("backend", "auto", "Capture backend: auto, gstreamer or testpattern")

	fs.Parse(args)
	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	backends, err := selectBackends(*backendName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	src, err := capture.NewSource(backends)
	if err != nil {
		return err
	}
	defer src.Close()

	sender, err := transport.NewSender(cfg.Group,
		transport.SenderMaxChunkSize(cfg.ChunkSize),
		transport.SenderTTL(cfg.TTL),
		transport.SenderMetrics(m),
	)
	if err != nil {
		return err
	}
	defer sender.Close()

	pacer := beamcast.NewAdaptivePacer(cfg.PacerConfig(), nil)
	enc := codec.NewJPEGEncoder(cfg.JPEGQuality, cfg.MaxWidth)

	sess, err := session.NewSendSession(src, enc, sender, pacer, session.SendMetrics(m))
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return sess.Run(ctx)
	})
	if cfg.APIAddr != "" {
		srv, err := statsServer(cfg.APIAddr, func() any { return sess.Snapshot() }, m)
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// envFileFromArgs scans args for the env-file flag ahead of the flag set's
// own parse, accepting both the "-env FILE" and "-env=FILE" spellings.
func envFileFromArgs(args []string, fallback string) string {
	envFile := fallback
	for i, a := range args {
		for _, name := range []string{"-env", "--env"} {
			if a == name && i+1 < len(args) {
				envFile = args[i+1]
			} else if v, ok := strings.CutPrefix(a, name+"="); ok {
				envFile = v
			}
		}
	}
	return envFile
}

func selectBackends(name string) ([]capture.BackendFactory, error) {
	all := capture.DefaultBackends()
	if name == "auto" {
		return all, nil
	}
	for _, f := range all {
		if f.Name == name {
			return []capture.BackendFactory{f}, nil
		}
	}
	return nil, fmt.Errorf("unknown capture backend: %q", name)
}

func statsServer(addr string, stats func() any, m *metrics.Metrics) (*ihttp.Server, error) {
	router := httprouter.New()
	api := beamhttp.NewAPI(stats, m.Handler())
	api.RegisterRoutes(router)
	return ihttp.NewServer(
		ihttp.Address(addr),
		ihttp.Handle(router),
	)
}
