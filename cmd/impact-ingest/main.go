// Package main is the entry point for the impact ingestion service.
package main

import (
	"os"

	"github.com/impactledger/impact-ingest/cmd/impact-ingest/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
