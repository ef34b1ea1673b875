package main

import (
	"os"

	"github.com/austindbirch/httpout/cmd/httpoutctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
