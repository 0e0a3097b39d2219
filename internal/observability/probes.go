package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// Probe states reported per component and overall.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// ReadinessReport is the readiness probe body.
type ReadinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// liveness answers 200 while the process can serve HTTP at all.
func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the configured timeout
// and answers 200 only when all of them pass.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	report := s.runChecks(ctx)

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUp {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	// The status code is already written; the body is for humans.
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) runChecks(ctx context.Context) ReadinessReport {
	report := ReadinessReport{
		Status: StatusUp,
		Checks: make(map[string]string, len(s.checkers)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// Warn only: the orchestrator retries the probe.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				report.Checks[c.Name()] = StatusDown + ": " + err.Error()
				report.Status = StatusDown
				return
			}
			report.Checks[c.Name()] = StatusUp
		}(checker)
	}

	wg.Wait()
	return report
}
