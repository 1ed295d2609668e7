package ready

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPProbe returns a Probe that requests the CDP version endpoint on the
// target's remote debugging port. Any transport error or non-2xx status
// reads as "not ready".
func HTTPProbe(host string, port int) Probe {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://%s:%d/json/version", host, port)

	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}

		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
}
