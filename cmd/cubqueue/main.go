// Package main is the entry point for the cubqueue binary.
// The same binary hosts the server (start/stop) and the client commands
// that drive its HTTP API.
package main

import (
	"cubqueue/cmd/cubqueue/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
