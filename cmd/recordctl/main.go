package main

import (
	"os"

	"github.com/JonMunkholm/recordkeeper/cmd/recordctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
