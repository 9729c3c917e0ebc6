// Package httpapi serves the latency query API over the persisted record
// stream. It is read-only: the collection pipeline is the sole writer.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"latencyprobe/internal/aggregate"
	"latencyprobe/internal/domain"
	"latencyprobe/internal/httpapi/middleware"
)

// Server answers latency queries from the NDJSON record stream.
type Server struct {
	Logger     *zap.Logger
	DataPath   string // NDJSON file or directory of *.jsonl files
	RatePerMin int
	RateBurst  int
}

// NewServer creates a query server over the given data path.
func NewServer(l *zap.Logger, dataPath string, ratePerMin, rateBurst int) *Server {
	return &Server{
		Logger:     l,
		DataPath:   dataPath,
		RatePerMin: ratePerMin,
		RateBurst:  rateBurst,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(middleware.RateLimit(s.RatePerMin, s.RateBurst))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/latency", s.handleLatency)

	return r
}

// measurement is one latency figure with its unit.
type measurement struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type observationGroup struct {
	Count       int               `json:"count"`
	SuccessRate *float64          `json:"success_rate,omitempty"`
	FirstSeen   *domain.Timestamp `json:"first_seen,omitempty"`
	LastSeen    *domain.Timestamp `json:"last_seen,omitempty"`
}

type statsGroup struct {
	Min measurement `json:"min"`
	Max measurement `json:"max"`
	Avg measurement `json:"avg"`
	Med measurement `json:"med"`
}

type latencyResponse struct {
	ResponseID  string                 `json:"response_id"`
	Timestamp   domain.Timestamp       `json:"timestamp"`
	Status      string                 `json:"status"`
	Parameters  map[string]string      `json:"parameters"`
	Observation *observationGroup      `json:"observation,omitempty"`
	Percentile  map[string]measurement `json:"percentile,omitempty"`
	Stats       *statsGroup            `json:"stats,omitempty"`
}

func (s *Server) handleLatency(w http.ResponseWriter, r *http.Request) {
	protocol, err := domain.ParseProtocol(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("protocol"))))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	window := r.URL.Query().Get("window")
	if window == "" {
		window = "5m"
	}
	delta, err := aggregate.ParseWindow(window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cutoff := time.Now().UTC().Add(-delta)

	records, err := aggregate.Scan(s.DataPath, protocol, cutoff)
	if err != nil {
		s.Logger.Error("scan_failed", zap.String("path", s.DataPath), zap.Error(err))
		http.Error(w, "could not read record stream", http.StatusInternalServerError)
		return
	}

	report := aggregate.Summarize(records)

	resp := latencyResponse{
		ResponseID: strings.ReplaceAll(uuid.New().String(), "-", ""),
		Timestamp:  domain.Now(),
		Status:     "success",
		Parameters: map[string]string{
			"protocol": string(protocol),
			"window":   window,
		},
		Observation: &observationGroup{Count: report.Count},
	}

	if report.Count > 0 {
		rate := report.SuccessRate
		first := domain.Timestamp(report.FirstSeen)
		last := domain.Timestamp(report.LastSeen)
		resp.Observation.SuccessRate = &rate
		resp.Observation.FirstSeen = &first
		resp.Observation.LastSeen = &last
	}
	if report.Successes > 0 {
		resp.Percentile = make(map[string]measurement, len(aggregate.PercentileRanks))
		for _, rank := range aggregate.PercentileRanks {
			resp.Percentile["p"+itoa(rank)] = measurement{Value: report.Percentiles[rank], Unit: "ms"}
		}
		resp.Stats = &statsGroup{
			Min: measurement{Value: report.Min, Unit: "ms"},
			Max: measurement{Value: report.Max, Unit: "ms"},
			Avg: measurement{Value: report.Mean, Unit: "ms"},
			Med: measurement{Value: report.Median, Unit: "ms"},
		}
	}

	s.Logger.Debug("latency_query",
		zap.String("protocol", string(protocol)),
		zap.String("window", window),
		zap.Int("count", report.Count),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [3]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
