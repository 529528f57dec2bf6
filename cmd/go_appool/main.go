package main

import (
	"os"

	"github.com/andrei-cloud/go_appool/cmd/go_appool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
