package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/beamlab/beamcast/cmdmain"
	"github.com/beamlab/beamcast/config"
	"github.com/beamlab/beamcast/internal/metrics"
	"github.com/beamlab/beamcast/session"
	"github.com/beamlab/beamcast/transport"
)

func init() {
	cmdmain.RegisterSubCmd("receive", func() cmdmain.SubCmd { return new(Receive) })
}

type Receive struct{}

// Help implements cmdmain.SubCmd.
func (r *Receive) Help() string {
	return "Join the multicast group and reassemble the stream"
}

// Exec implements cmdmain.SubCmd.
func (r *Receive) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("receive", flag.ExitOnError)

	var envFile string
	fs.StringVar(&envFile, "env", ".env", "Env file with BEAMCAST_* settings")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Join the multicast group and reassemble the stream

Usage:
	%s receive [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}

	envFile = envFileFromArgs(args, envFile)
	cfg := config.Load(envFile)

	fs.StringVar(&cfg.Group, "group", cfg.Group, "Multicast group address and port")
	fs.StringVar(&cfg.Interface, "iface", cfg.Interface, "Network interface to join on, empty picks one")
	fs.DurationVar(&cfg.FrameTimeout, "timeout", cfg.FrameTimeout, "Age after which an incomplete frame is dropped")
	fs.IntVar(&cfg.MaxPending, "max-pending", cfg.MaxPending, "Maximum number of frames held incomplete")
	fs.StringVar(&cfg.APIAddr, "api-address", cfg.APIAddr, "Address of the stats/metrics HTTP API, empty disables it")

	outDir := fs.String("out", "", "Directory to write the latest completed frame to, empty discards frames")

	fs.Parse(args)
	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	recv, err := transport.NewReceiver(
		transport.ReceiverFrameTimeout(cfg.FrameTimeout),
		transport.ReceiverMaxPending(cfg.MaxPending),
		transport.ReceiverMetrics(m),
	)
	if err != nil {
		return err
	}

	render := session.RenderFunc(nil)
	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			return err
		}
		render = frameWriter(*outDir)
	}

	sess, err := session.NewReceiveSession(cfg.Group, recv, render,
		session.ReceiveInterface(cfg.Interface),
		session.ReceiveMetrics(m),
	)
	if err != nil {
		return err
	}
	defer sess.Close()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return sess.Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		return sess.Close()
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

// frameWriter publishes each completed frame as <dir>/latest.jpg. The write
// goes through a temp file and a rename so readers never observe a partial
// image.
func frameWriter(dir string) session.RenderFunc {
	tmp := filepath.Join(dir, ".latest.jpg.tmp")
	final := filepath.Join(dir, "latest.jpg")
	return func(frameID uint32, payload []byte) {
		if err := os.WriteFile(tmp, payload, 0o644); err != nil {
			slog.Warn("failed to write frame", "frame_id", frameID, "error", err)
			return
		}
		if err := os.Rename(tmp, final); err != nil {
			slog.Warn("failed to publish frame", "frame_id", frameID, "error", err)
		}
	}
}
