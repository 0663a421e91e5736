package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Tutortoise/face-attendance-service/acquisition"
	"github.com/Tutortoise/face-attendance-service/export"
	"github.com/Tutortoise/face-attendance-service/models"
	"github.com/Tutortoise/face-attendance-service/pipeline"
	"github.com/Tutortoise/face-attendance-service/store"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// Values of the X-Frame-Status header on /process_frame.
const (
	FrameProcessed = "processed"
	FrameDropped   = "dropped"
	FrameQueued    = "queued"
)

type frameRequest struct {
	Frame string `json:"frame"`
}

func (s *AppState) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", map[string]any{
		"PushEnabled":    s.PushEnabled,
		"PullEnabled":    s.PullEnabled,
		"PushIntervalMs": s.PushIntervalMs,
	})
}

func (s *AppState) handleAddUserForm(w http.ResponseWriter, r *http.Request) {
	_, hasUnknown := s.State.UnknownEmbedding()
	s.render(w, "add_user.html", map[string]any{
		"HasUnknown": hasUnknown,
		"Notice":     MsgNoUnknownFace,
	})
}

func (s *AppState) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("Failed to render %s: %v", name, err)
		sendErrorResponse(w, "render_error", "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *AppState) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	if !s.PushEnabled {
		sendErrorResponse(w, "push_disabled", "Frame upload is disabled in pull mode", http.StatusNotFound)
		return
	}

	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, err := acquisition.DecodeDataURL(req.Frame)
	if err != nil {
		log.Printf("Failed to decode frame: %v", err)
		respondFrame(w, FrameDropped, models.RecognitionResult{})
		return
	}

	requestID := middleware.GetReqID(r.Context())

	if s.Dispatcher != nil {
		status := FrameDropped
		if s.Dispatcher.Submit(frameJob{img: img, requestID: requestID}) {
			status = FrameQueued
		}
		respondFrame(w, status, s.State.Read())
		return
	}

	done, ok := s.PushGate.Admit()
	if !ok {
		respondFrame(w, FrameDropped, s.State.Read())
		return
	}
	defer done()

	ctx := pipeline.WithRequestID(r.Context(), requestID)
	result, err := s.Processor.Process(ctx, img)
	if err != nil {
		result = models.RecognitionResult{}
	}
	respondFrame(w, FrameProcessed, result)
}

func respondFrame(w http.ResponseWriter, status string, result models.RecognitionResult) {
	w.Header().Set("X-Frame-Status", status)
	respondJSON(w, http.StatusOK, result)
}

func (s *AppState) handleRecognitionData(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.State.Read())
}

func (s *AppState) handleAddUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	if username == "" {
		sendErrorResponse(w, "invalid_request", MsgMissingUsername, http.StatusBadRequest)
		return
	}

	embedding, ok := s.State.UnknownEmbedding()
	if !ok {
		sendErrorResponse(w, "no_unknown_face", MsgNoUnknownFace, http.StatusBadRequest)
		return
	}

	user, err := s.enroll(r.Context(), models.NewUser{
		Username: username,
		Attributes: map[string]string{
			models.AttrGender:     formValue(r, "gender", "jenis-Kelamin", "jenis_kelamin"),
			models.AttrDepartment: formValue(r, "department", "jurusan", "major"),
		},
		Embedding: embedding,
		TimeAdded: time.Now(),
	})
	if err != nil {
		log.Printf("Failed to enroll %s: %v", username, err)
		sendErrorResponse(w, "store_error", "Failed to save user", http.StatusInternalServerError)
		return
	}
	s.State.ClearUnknownIf(embedding)

	log.Printf("Enrolled user %s (%s)", user.ID, user.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// formValue returns the first non-empty form field among names. Older
// clients post the attribute fields under their original names.
func formValue(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.PostForm.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func (s *AppState) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Gateway.ListUsers(r.Context())
	if err != nil {
		log.Printf("Failed to list users: %v", err)
		sendErrorResponse(w, "store_error", "Failed to list users", http.StatusBadGateway)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *AppState) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["user_id"]
	id, err := models.ParseUserID(raw)
	if err != nil {
		sendErrorResponse(w, "invalid_request", fmt.Sprintf("invalid user id %q", raw), http.StatusBadRequest)
		return
	}

	if err := s.Gateway.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendErrorResponse(w, "not_found", fmt.Sprintf("User %s not found", id), http.StatusNotFound)
			return
		}
		log.Printf("Failed to delete user %s: %v", id, err)
		sendErrorResponse(w, "store_error", "Failed to delete user", http.StatusBadGateway)
		return
	}
	s.Cache.Invalidate()

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("User %s deleted successfully", id),
	})
}

func (s *AppState) handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, "users.csv", "text/csv", export.WriteCSV)
}

func (s *AppState) handleDownloadExcel(w http.ResponseWriter, r *http.Request) {
	s.download(w, r, "users.xlsx", export.XLSXContentType, export.WriteXLSX)
}

func (s *AppState) download(w http.ResponseWriter, r *http.Request, filename, contentType string, write func(w io.Writer, t export.Table) error) {
	table, err := s.Gateway.ExportTable(r.Context())
	if err != nil {
		log.Printf("Failed to export users: %v", err)
		sendErrorResponse(w, "store_error", "Failed to export users", http.StatusBadGateway)
		return
	}
	if table.Empty() {
		http.Error(w, MsgNoUsers, http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := write(&buf, table); err != nil {
		log.Printf("Failed to render %s: %v", filename, err)
		sendErrorResponse(w, "export_error", "Failed to render export", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment;filename="+filename)
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	buf.WriteTo(w)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	pools := make([]any, 0, len(s.Pools))
	for _, p := range s.Pools {
		pools = append(pools, p.GetMetrics())
	}
	response := map[string]any{
		"pools":         pools,
		"cache_fetches": s.Cache.Fetches(),
	}
	if s.Dispatcher != nil {
		response["dispatcher"] = s.Dispatcher.Stats()
	}
	if s.Producer != nil {
		response["camera"] = s.Producer.Stats()
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	respondJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *AppState) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if s.Feed == nil {
		sendErrorResponse(w, "pull_disabled", "Camera feed is not enabled", http.StatusServiceUnavailable)
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("Failed to clear write deadline: %v", err)
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		sendErrorResponse(w, "stream_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")

	var seq uint64
	for {
		frame, next, err := s.Feed.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		part, err := mw.CreatePart(header)
		if err != nil {
			return
		}
		if _, err := part.Write(frame); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
