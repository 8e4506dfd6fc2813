package main

import (
	"fmt"
	"os"

	"github.com/vizorhq/vizor/cmd/vizor/ingest"
	"github.com/vizorhq/vizor/cmd/vizor/version"
	"github.com/vizorhq/vizor/cmd/vizor/worker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		ingest.Run(os.Args[2:])
	case "worker":
		worker.Run(os.Args[2:])
	case "version":
		version.Run()
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vizor - Chart Data Ingestion Pipeline

Usage:
  vizor <command> [options]

Commands:
  ingest    Ingest a tabular file into a dataset
  worker    Run the background deletion worker
  version   Print version information
  help      Show this help message

Run 'vizor <command> --help' for more information on a command.`)
}
