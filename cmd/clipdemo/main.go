// Command clipdemo drives the interactive clipping demo headlessly: the main
// goroutine acts as the UI thread while a script goroutine issues renders,
// plane updates and aborts, saving every frame as PNG.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	app := &cli.App{
		Name:  "clipdemo",
		Usage: "Render a clipped cylinder grid on a dedicated render thread",
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
