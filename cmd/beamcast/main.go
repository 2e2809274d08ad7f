package main

import (
	"github.com/beamlab/beamcast/cmdmain"
	_ "github.com/beamlab/beamcast/subcmd"
)

func main() {
	cmdmain.Main()
}
