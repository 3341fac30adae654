package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"whisperd/internal/queue"
	"whisperd/pkg/types"
)

// Jobs is the registry surface the HTTP layer needs.
type Jobs interface {
	Create(spec queue.Spec) (string, error)
	Get(id string) (types.JobView, error)
	QueuedIDs() []string
	RunningIDs() []string
}

// Models reports overall service health derived from the model catalog.
type Models interface {
	Health() (types.HealthStatus, string)
}

// States serves dashboard snapshots, pull and push.
type States interface {
	State() types.DashboardState
	Subscribe() (<-chan types.DashboardState, func())
}

// Config carries the HTTP layer's own settings.
type Config struct {
	UploadDir       string
	DefaultLanguage string
	// MaxUploadBytes limits the multipart request body. <= 0 means 1 GiB.
	MaxUploadBytes int64
}

// Server holds handler dependencies.
type Server struct {
	jobs     Jobs
	models   Models
	states   States
	cfg      Config
	log      zerolog.Logger
	validate *validator.Validate
}

// NewServer wires the handler set.
func NewServer(jobs Jobs, models Models, states States, cfg Config, log zerolog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 30
	}
	return &Server{
		jobs:     jobs,
		models:   models,
		states:   states,
		cfg:      cfg,
		log:      log.With().Str("component", "http").Logger(),
		validate: validator.New(),
	}
}

// NewMux builds the router with the full middleware stack.
func NewMux(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger(s.log))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/", s.handleDashboardPage)
	r.Get("/health", s.handleHealth)
	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/queue", s.handleQueue)
	r.Get("/status", s.handleStatus)
	r.Get("/dashboard/state", s.handleDashboardState)
	r.Get("/ws/dashboard", s.handleDashboardWS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if status, _ := s.models.Health(); status == types.HealthReady {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, errMsg := s.models.Health()
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: status, Error: errMsg})
}

type transcribeForm struct {
	Model       string `validate:"required"`
	Language    string `validate:"required"`
	CallbackURL string `validate:"required,url"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if status, errMsg := s.models.Health(); status != types.HealthReady {
		msg := "service is not ready"
		if errMsg != "" {
			msg = errMsg
		}
		writeJSONError(w, http.StatusServiceUnavailable, msg)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	form := transcribeForm{
		Model:       strings.TrimSpace(r.FormValue("model")),
		Language:    strings.TrimSpace(r.FormValue("language")),
		CallbackURL: strings.TrimSpace(r.FormValue("callback_url")),
	}
	if form.Language == "" {
		form.Language = s.cfg.DefaultLanguage
	}
	if err := s.validate.Struct(form); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	dir := filepath.Join(s.cfg.UploadDir, uuid.NewString())
	if err := saveUpload(file, dir); err != nil {
		s.log.Error().Err(err).Msg("store upload")
		writeJSONError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	id, err := s.jobs.Create(queue.Spec{
		Model:       form.Model,
		Language:    form.Language,
		CallbackURL: form.CallbackURL,
		InputDir:    dir,
	})
	if err != nil {
		os.RemoveAll(dir)
		writeAdmissionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.TranscribeResponse{JobID: id})
}

func saveUpload(src io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(dir, "input"))
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}
	fe := ve[0]
	field := formField(fe.Field())
	if fe.Tag() == "required" {
		return field + " is required"
	}
	return field + " is invalid"
}

func formField(name string) string {
	switch name {
	case "CallbackURL":
		return "callback_url"
	default:
		return strings.ToLower(name)
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	queued := s.jobs.QueuedIDs()
	running := s.jobs.RunningIDs()
	status := "idle"
	if len(queued)+len(running) > 0 {
		status = "busy"
	}
	writeJSON(w, http.StatusOK, types.QueueResponse{Status: status, Queued: queued, Running: running})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	view, err := s.jobs.Get(id)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDashboardState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.states.State())
}
