// Package prometheus queries the monitoring backend for cluster utilization.
// The coordinator folds the numbers into its aggregate stats; dispatch
// decisions never depend on them.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/port"
)

const (
	cpuQuery = `100 - (avg (rate(node_cpu_seconds_total{mode="idle"}[1m])) * 100)`
	memQuery = `sum(node_memory_MemTotal_bytes - node_memory_MemAvailable_bytes)`
)

type monitoringService struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewMonitoringService(promURL string, log *zap.Logger) port.MonitoringService {
	return &monitoringService{
		baseURL: promURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Value any `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// ClusterUtilization returns average CPU usage percent and memory usage in MB
// across all exporting nodes. A failed memory query degrades to CPU only.
func (s *monitoringService) ClusterUtilization(ctx context.Context) (float64, float64, error) {
	cpu, err := s.query(ctx, cpuQuery)
	if err != nil {
		return 0, 0, err
	}

	memBytes, err := s.query(ctx, memQuery)
	if err != nil {
		s.log.Warn("Memory query failed, reporting CPU only", zap.Error(err))
		return cpu, 0, nil
	}

	return cpu, memBytes / 1024 / 1024, nil
}

func (s *monitoringService) query(ctx context.Context, promQL string) (float64, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query?query=%s", s.baseURL, url.QueryEscape(promQL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prometheus request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("prometheus status %d: %s", resp.StatusCode, string(body))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode prometheus response: %w", err)
	}
	if parsed.Status != "success" {
		return 0, fmt.Errorf("prometheus error: %s (%s)", parsed.Error, parsed.ErrorType)
	}
	if len(parsed.Data.Result) == 0 {
		return 0, fmt.Errorf("empty result for query %q", promQL)
	}

	return scalar(parsed.Data.Result[0].Value)
}

// scalar extracts the sample value. The API normally returns a
// [timestamp, "value"] pair but bare numbers and strings show up too.
func scalar(value any) (float64, error) {
	switch v := value.(type) {
	case []any:
		if len(v) < 2 {
			return 0, fmt.Errorf("short sample array: %d elements", len(v))
		}
		return scalar(v[1])
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("unexpected sample type %T", value)
	}
}
