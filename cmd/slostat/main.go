package main

import (
	"os"

	"github.com/rpeltola/slostat/cmd/slostat/root"
)

func main() {
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
