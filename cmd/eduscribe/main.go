// Package main provides the eduscribe server and tooling CLI.
//
// Usage:
//
//	eduscribe [flags] <command> [args]
//
// Commands:
//
//	serve   - Run the live lecture pipeline server
//	ingest  - Add a course document to a lecture's corpus
//	version - Print the build version
//
// Configuration:
//
//	The server reads ~/.eduscribe/config.yaml by default; every
//	setting can also come from EDUSCRIBE_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/eduscribe/eduscribe/cmd/eduscribe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
