package main

import (
	"os"

	"github.com/sshmcp-project/sshmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
