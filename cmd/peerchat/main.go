package main

import (
	"os"

	"peerchat/cmd/peerchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
