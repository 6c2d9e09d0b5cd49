// Command sdma-sim runs send DMA engines over simulated hardware.
package main

import (
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/sdmakit/sdma/core/logging"
	"github.com/sdmakit/sdma/core/version"
)

var logger = logging.New("main")

var interrupt = make(chan os.Signal, 1)

var app = &cli.App{
	Version: version.Get().String(),
	Usage:   "Send DMA engine simulator.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "log",
			Usage:   "Log `level` applied to every package (V, D, I, W, E, F).",
			EnvVars: []string{"SDMA_LOG"},
		},
	},
	Before: func(c *cli.Context) error {
		signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
		if lvl := c.String("log"); lvl != "" {
			logging.SetLevels(map[string]string{"*": lvl})
		}
		return nil
	},
}

func defineCommand(command *cli.Command) {
	app.Commands = append(app.Commands, command)
}

func main() {
	sort.Sort(cli.CommandsByName(app.Commands))
	e := app.Run(os.Args)
	if e != nil {
		log.Fatal(e)
	}
}
