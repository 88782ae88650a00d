package main

import (
	"os"

	"github.com/warp/loan-engine/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewApp(), os.Args[1:]))
}
