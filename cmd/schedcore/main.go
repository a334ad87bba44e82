package main

import (
	"fmt"
	"os"

	"scheduling-core/internal/app"
)

func main() {
	cliApp := app.New()
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
