package main

import (
	"os"

	"github.com/rahul/sovereign/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
