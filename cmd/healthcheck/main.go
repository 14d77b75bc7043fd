// Command healthcheck probes the local decisionlog API for container health
// checks. It exits 0 only when /api/v1/health reports status "ok".
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

func main() {
	os.Exit(check(os.Getenv("DECISIONLOG_LISTEN_ADDR")))
}

func check(listenAddr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/health", normalizeAddr(listenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck: decode response:", err)
		return 1
	}

	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		fmt.Fprintf(os.Stderr, "healthcheck: HTTP %d, status %q\n", resp.StatusCode, body.Status)
		return 1
	}

	return 0
}

// normalizeAddr dials loopback when the server binds every interface. The
// probe runs inside the same container, so loopback is always reachable.
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
