package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/videogen"
)

// App is the handler container: it carries the orchestration service, the job
// store for read paths and the logger.
type App struct {
	Logger  zerolog.Logger
	Service *videogen.Service
	Jobs    domain.JobRepository
}

func NewApp(logger zerolog.Logger, service *videogen.Service, jobs domain.JobRepository) *App {
	return &App{Logger: logger, Service: service, Jobs: jobs}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
