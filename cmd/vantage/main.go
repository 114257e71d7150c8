package main

import (
	"os"

	"github.com/vantage-sec/vantage/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
