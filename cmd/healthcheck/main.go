// Package main is a minimal liveness probe for distroless wildid containers,
// where no shell or curl is available. It exits 0 when the service's /health
// endpoint returns HTTP 200, and 1 otherwise. The port follows the same
// WILDID_PORT override the server honors. Compile with CGO_ENABLED=0 for a
// fully static binary.
package main

import (
	"net/http"
	"os"
)

func main() {
	port := os.Getenv("WILDID_PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
