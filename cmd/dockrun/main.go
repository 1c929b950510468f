package main

import (
	"os"

	"dockrun/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
