package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "Allocator"
	app.Usage = "Quadratic funding allocation mechanism"
	app.Compiled = time.Now()

	// global flags
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "repo",
			Usage: "Allocator storage repo path",
		},
		&cli.Int64Flag{
			Name:  "at",
			Usage: "Run the command at this unix time instead of now",
		},
	}

	app.Commands = []*cli.Command{configCMD}
	app.Commands = append(app.Commands, mechanismCMDs...)
	app.Commands = append(app.Commands, signCMDs...)
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "Allocator version",
		Action: func(ctx *cli.Context) error {
			printVersion()
			return nil
		},
	})
	return app
}
