// Command registryserver runs the in-memory reference registry used
// for local development and integration tests against the replication
// engine.
package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/bazobehram/dweb-hosting-network-sub000/internal/logging"
	"github.com/bazobehram/dweb-hosting-network-sub000/internal/registryserver"
)

func main() {
	addr := flag.String("addr", ":8081", "HTTP service address")
	debug := flag.Bool("debug", false, "enable verbose development logging")
	flag.Parse()

	logger, err := logging.New(*debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	srv := registryserver.New(logger)
	if err := srv.ListenAndServe(*addr); err != nil {
		logger.Fatal("registry server failed", zap.Error(err))
	}
}
