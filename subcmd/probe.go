package subcmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/beamlab/beamcast/capture"
	"github.com/beamlab/beamcast/cmdmain"
)

func init() {
	cmdmain.RegisterSubCmd("probe", func() cmdmain.SubCmd { return new(Probe) })
}

type Probe struct{}

// Help implements cmdmain.SubCmd.
func (p *Probe) Help() string {
	return "Probe the capture backends and report which are usable"
}

// Exec implements cmdmain.SubCmd.
func (p *Probe) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Probe the capture backends and report which are usable

Usage:
	%s probe [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	for _, f := range capture.DefaultBackends() {
		b, err := f.Probe()
		if err != nil {
			fmt.Fprintf(os.Stdout, "%-12s unavailable: %v\n", f.Name, err)
			continue
		}
		fmt.Fprintf(os.Stdout, "%-12s ok (%dx%d)\n", f.Name, b.Width(), b.Height())
		b.Close()
	}
	return nil
}
