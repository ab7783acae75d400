// Command healthcheck checks a local reelqueue server and exits non-zero
// unless it reports healthy. It is meant for container HEALTHCHECK use.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ericfisherdev/reelqueue/internal/apiclient"
)

func main() {
	os.Exit(check())
}

func check() int {
	addr := normalizeAddr(os.Getenv("REELQUEUE_LISTEN_ADDR"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := apiclient.New("http://"+addr, "", &http.Client{Timeout: 2 * time.Second})
	report, err := client.Health(ctx)
	if err != nil || report.Status != "ok" {
		return 1
	}
	return 0
}

// normalizeAddr ensures the healthcheck connects to loopback rather than the
// bind-all address. Docker containers bind 0.0.0.0 but the healthcheck runs
// inside the same container, so loopback is reachable and more correct.
func normalizeAddr(raw string) string {
	if raw == "" {
		return "127.0.0.1:8080"
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "127.0.0.1:8080"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
