package main

import (
	"context"
	"os"

	"github.com/daniacca/snowdla/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute(context.Background())))
}
