// health.go — обработчики health endpoints Firestream Console.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL + blob store)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/firestream-console/internal/config"
)

const serviceName = "firestream-console"

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthReporter — источник состояния зависимостей (topologymetrics).
type HealthReporter interface {
	Health() map[string]bool
}

// DependencyChecker — ReadinessChecker поверх результатов topologymetrics.
// Недоступная зависимость даёт статус unhealthy (обычно "degraded").
// Без источника (мониторинг не запущен) проверка всегда "degraded".
type DependencyChecker struct {
	reporter  HealthReporter
	name      string
	unhealthy string
}

// NewDependencyChecker создаёт проверку зависимости name.
// reporter может быть nil.
func NewDependencyChecker(reporter HealthReporter, name, unhealthy string) *DependencyChecker {
	return &DependencyChecker{reporter: reporter, name: name, unhealthy: unhealthy}
}

// CheckReady возвращает состояние зависимости по последней проверке.
func (c *DependencyChecker) CheckReady() (string, string) {
	if c.reporter == nil {
		return "degraded", "мониторинг зависимостей отключён"
	}

	// Ключи Health() имеют формат "dependency:host:port"
	found := false
	for key, ok := range c.reporter.Health() {
		if key != c.name && !strings.HasPrefix(key, c.name+":") {
			continue
		}
		if !ok {
			return c.unhealthy, "зависимость недоступна"
		}
		found = true
	}
	if !found {
		return "degraded", "проверка ещё не выполнялась"
	}
	return "ok", "доступна"
}

// namedChecker — проверка готовности с именем в ответе.
type namedChecker struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checks      []namedChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{promHandler: promhttp.Handler()}
}

// AddCheck регистрирует проверку готовности. nil-проверка даёт "fail".
func (h *HealthHandler) AddCheck(name string, checker ReadinessChecker) *HealthHandler {
	h.checks = append(h.checks, namedChecker{name: name, checker: checker})
	return h
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checks)),
	}

	statuses := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		res := healthCheckResult{Status: "fail", Message: "не инициализирован"}
		if c.checker != nil {
			res.Status, res.Message = c.checker.CheckReady()
		}
		resp.Checks[c.name] = res
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)

	status := http.StatusOK
	if resp.Status == "fail" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: хотя бы одна fail — fail, хотя бы одна degraded — degraded, иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}
