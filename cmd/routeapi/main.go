package main

import (
	"os"

	"github.com/routeoptions/route-options/cmd/routeapi/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
