// Command healthcheck probes the embed server's /healthz endpoint. Because
// the server may have fallen back from the preferred port, the probe scans
// the same port range the server binds from.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	preferred := envInt("EMBED_PORT", 8192)
	span := envInt("EMBED_PORT_SPAN", 10)

	client := &http.Client{Timeout: 2 * time.Second}
	ctx := context.Background()
	for i := 0; i < span; i++ {
		url := fmt.Sprintf("http://localhost:%d/healthz", preferred+i)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return
		}
	}
	os.Exit(1)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
