package main

import (
	"fmt"
	"os"

	"github.com/cartpulse/cartpulse-stack/traingen/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "traingen: %v\n", err)
		os.Exit(1)
	}
}
