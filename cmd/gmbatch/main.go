package main

import (
	"os"

	"gmbatch/internal/cli"
)

func main() { os.Exit(cli.Main()) }
