package main

import (
	"os"

	"ipsentry/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
