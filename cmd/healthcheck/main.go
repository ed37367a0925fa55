// Command healthcheck probes the keyissuer health endpoint for container
// HEALTHCHECK directives. It exits 0 only when the key store is reachable.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8000"

func main() {
	url := fmt.Sprintf("http://%s/api/v1/health", normalizeAddr(os.Getenv("KEYISSUER_LISTEN_ADDR")))
	os.Exit(probe(url, 2*time.Second))
}

// probe returns 0 when url answers 200 with {"status":"ok"} within timeout.
func probe(url string, timeout time.Duration) int {
	client := &http.Client{Timeout: timeout}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}

	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return 1
	}

	return 0
}

// normalizeAddr makes the probe connect to loopback rather than a bind-all
// address, since it runs inside the same container as the server.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
