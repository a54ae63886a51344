package main

import (
	"os"

	"github.com/briefcast/briefcast/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
