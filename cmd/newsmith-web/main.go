// Command newsmith-web serves the engine over HTTP: topic listings, streamed
// article generation, cache invalidation and digest runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dverney/newsmith"
)

func main() {
	configPath := flag.String("config", "newsmith.yaml", "path to config file")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := newsmith.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	engine, err := newsmith.NewEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           withRecovery(withLogging(newServer(engine).routes())),
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout; article generation streams for minutes.
	}

	log.Printf("newsmith: web server listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("newsmith: server failed: %v", err)
	}
}
