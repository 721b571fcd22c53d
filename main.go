package main

import (
	"os"

	"github.com/nextdhcp/omapi-sync/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
