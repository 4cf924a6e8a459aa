package main

import (
	"os"

	"github.com/foodbridge/relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
