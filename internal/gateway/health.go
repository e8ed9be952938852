package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// HealthReport aggregates the gateway's own status with one entry per
// registered service.
type HealthReport struct {
	Gateway  string            `json:"gateway"`
	Services map[string]string `json:"services"`
}

// AggregateHealth probes every registered service concurrently. Each
// probe carries its own timeout so one slow backend cannot delay the
// report past it.
func (g *Gateway) AggregateHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Gateway:  "healthy",
		Services: make(map[string]string, len(g.order)),
	}

	var mu sync.Mutex
	var eg errgroup.Group
	for _, b := range g.order {
		eg.Go(func() error {
			status := g.probe(ctx, b)
			mu.Lock()
			report.Services[b.route.Name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return report
}

func (g *Gateway) probe(ctx context.Context, b *backend) string {
	ctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.healthURL, nil)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "error: health check timed out"
		}
		return fmt.Sprintf("error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("error: status %d", resp.StatusCode)
	}
	return "healthy"
}

// handleHealth always answers 200: degraded backends are reported in the
// body, not as a gateway failure.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, g.AggregateHealth(r.Context()))
}
