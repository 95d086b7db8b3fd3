// Package main is the entry point for the Lightspeed exporter.
package main

import (
	"os"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/cmd/lightspeed-exporter/app"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

func main() {
	err := app.NewRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
