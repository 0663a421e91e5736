package main

import (
	"context"
	"html/template"
	"image"
	"net/http"
	"time"

	"github.com/Tutortoise/face-attendance-service/detections"
	"github.com/Tutortoise/face-attendance-service/facecache"
	"github.com/Tutortoise/face-attendance-service/pipeline"
	"github.com/Tutortoise/face-attendance-service/scheduler"
	"github.com/Tutortoise/face-attendance-service/state"
	"github.com/Tutortoise/face-attendance-service/store"
	"github.com/Tutortoise/face-attendance-service/stream"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// frameJob is one pushed frame waiting for an async worker.
type frameJob struct {
	img       image.Image
	requestID string
}

type AppState struct {
	Gateway    store.Gateway
	Cache      *facecache.Cache
	State      *state.Shared
	Processor  *pipeline.Processor
	PushGate   scheduler.Gate
	Dispatcher *scheduler.Dispatcher[frameJob]
	Feed       *stream.Broadcaster
	Producer   *stream.Producer
	Pools      []*detections.SessionPool

	PushEnabled    bool
	PullEnabled    bool
	PushIntervalMs int

	templates *template.Template
}

// newDispatcher builds the async push worker pool. Jobs run through the
// pipeline with the request id of the upload that queued them.
func newDispatcher(proc *pipeline.Processor, capacity, workers int) *scheduler.Dispatcher[frameJob] {
	return scheduler.NewDispatcher(capacity, workers, func(ctx context.Context, job frameJob) {
		proc.Process(pipeline.WithRequestID(ctx, job.requestID), job.img)
	})
}

func NewRouter(s *AppState) (http.Handler, error) {
	if s.templates == nil {
		tmpl, err := loadTemplates()
		if err != nil {
			return nil, err
		}
		s.templates = tmpl
	}
	static, err := staticHandler()
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.HandleFunc("/video_feed", s.handleVideoFeed).Methods("GET")
	r.HandleFunc("/process_frame", s.handleProcessFrame).Methods("POST")
	r.HandleFunc("/recognition_data", s.handleRecognitionData).Methods("GET")
	r.HandleFunc("/add_user", s.handleAddUserForm).Methods("GET")
	r.HandleFunc("/add_user", s.handleAddUser).Methods("POST")
	r.HandleFunc("/users", s.handleUsers).Methods("GET")
	r.HandleFunc("/delete_user/{user_id}", s.handleDeleteUser).Methods("POST")
	r.HandleFunc("/download_users_csv", s.handleDownloadCSV).Methods("GET")
	r.HandleFunc("/download_users_excel", s.handleDownloadExcel).Methods("GET")
	r.PathPrefix("/static/").Handler(static)
	s.addMonitoringRoutes(r)

	return r, nil
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}
