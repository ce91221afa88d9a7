package main

import (
	"os"

	"github.com/brewkit/lmctl/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
