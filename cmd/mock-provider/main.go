// Command mock-provider imitates the email provider's send endpoint so the worker can be
// exercised locally without real mail leaving the box.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"backoffice/internal/httpserver"
	"backoffice/internal/logging"
	"backoffice/internal/util"
)

type config struct {
	APIKey       string  `envconfig:"MOCK_API_KEY" default:"mock_key"`
	Port         string  `envconfig:"PORT" default:"8080"`
	OutcomeMode  string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw  string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate  float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailuresRaw  string  `envconfig:"MOCK_FAILURE_TYPES" default:"server_error"`
	DelayMs      int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	TimeoutDelay int     `envconfig:"MOCK_TIMEOUT_DELAY_MS" default:"12000"`
	LogFormat    string  `envconfig:"LOG_FORMAT" default:"json"`

	Outcomes []string
	Failures []string
}

type mailRequest struct {
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	TemplateID string `json:"template_id"`
	Content    []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

type errorBody struct {
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type server struct {
	cfg   config
	idx   uint64
	rng   *rand.Rand
	rngMu sync.Mutex
	sleep func(time.Duration)
}

func main() {
	cfg := loadConfig()
	logging.Init("mock-provider", cfg.LogFormat, "info")

	s := newServer(cfg)
	slog.Info("mock provider listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(s.routes())); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func newServer(cfg config) *server {
	return &server{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: time.Sleep,
	}
}

func (s *server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v3/mail/send", s.handleSend).Methods(http.MethodPost)
	return router
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw, "ok")
	cfg.Failures = parseCSV(cfg.FailuresRaw, "server_error")
	return cfg
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
		writeErrors(w, http.StatusUnauthorized, errorItem{Message: "The provided authorization grant is invalid, expired, or revoked"})
		return
	}

	var req mailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, errorItem{Message: "Bad Request"})
		return
	}
	if problem := validate(req); problem != nil {
		writeErrors(w, http.StatusBadRequest, *problem)
		return
	}

	if s.cfg.DelayMs > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Duration(s.cfg.DelayMs) * time.Millisecond):
		}
	}

	status, msg := classifyOutcome(s.nextOutcome())
	switch {
	case status == http.StatusGatewayTimeout:
		s.sleep(time.Duration(s.cfg.TimeoutDelay) * time.Millisecond)
		writeErrors(w, status, errorItem{Message: msg})
	case status >= 300:
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		writeErrors(w, status, errorItem{Message: msg})
	default:
		w.Header().Set("X-Message-Id", util.NewMessageID())
		w.WriteHeader(http.StatusAccepted)
	}
}

func validate(req mailRequest) *errorItem {
	if len(req.Personalizations) == 0 || len(req.Personalizations[0].To) == 0 || req.Personalizations[0].To[0].Email == "" {
		return &errorItem{Message: "The personalizations field is required", Field: "personalizations"}
	}
	if req.From.Email == "" {
		return &errorItem{Message: "The from email is required", Field: "from.email"}
	}
	if req.TemplateID == "" && len(req.Content) == 0 {
		return &errorItem{Message: "Either template_id or content is required", Field: "content"}
	}
	return nil
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.idx, 1) - 1
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		i := s.rng.Intn(len(s.cfg.Failures))
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return s.cfg.Failures[i]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

// classifyOutcome maps an outcome token to the HTTP status the provider would answer with.
// Tokens are names (ok, rate_limit, bad_request, server_error, timeout) or bare status codes.
func classifyOutcome(raw string) (int, string) {
	kind := strings.TrimSpace(raw)
	switch kind {
	case "", "ok", "success":
		return http.StatusAccepted, ""
	case "rate_limit":
		return http.StatusTooManyRequests, "too many requests"
	case "bad_request":
		return http.StatusBadRequest, "bad request"
	case "server_error":
		return http.StatusInternalServerError, "internal error"
	case "unavailable":
		return http.StatusServiceUnavailable, "service unavailable"
	case "timeout":
		return http.StatusGatewayTimeout, "request timed out"
	}
	if code, err := strconv.Atoi(kind); err == nil && code >= 200 && code <= 599 {
		return code, http.StatusText(code)
	}
	return http.StatusInternalServerError, "mock error: " + kind
}

func writeErrors(w http.ResponseWriter, status int, items ...errorItem) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Errors: items})
}

func parseCSV(s, fallback string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}
