package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/teachme-ai/roster/internal/service/roster"
)

// HandleListStudents handles GET /api/students.
func (h *Handlers) HandleListStudents(w http.ResponseWriter, r *http.Request) {
	channels := ChannelsFromContext(r.Context())
	students, err := h.svc.ListStudents(r.Context(), channels.User)
	if err != nil {
		h.logger.Error("list students failed", "error", err,
			"request_id", AuditContextFromContext(r.Context()).RequestID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch students")
		return
	}

	h.recorder.EmitAsync(AuditContextFromContext(r.Context()),
		"list_students", "public.users", "all",
		map[string]any{"count": len(students)})
	writeList(w, http.StatusOK, students, len(students))
}

// HandleGetStudent handles GET /api/students/{id}.
func (h *Handlers) HandleGetStudent(w http.ResponseWriter, r *http.Request) {
	channels := ChannelsFromContext(r.Context())
	student, err := h.svc.GetStudent(r.Context(), channels.User, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Student not found")
			return
		}
		h.logger.Error("get student failed", "error", err,
			"request_id", AuditContextFromContext(r.Context()).RequestID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch student data")
		return
	}
	writeData(w, http.StatusOK, student)
}

// HandleStudentProgress handles GET /api/students/{id}/progress.
func (h *Handlers) HandleStudentProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	channels := ChannelsFromContext(r.Context())
	progress, err := h.svc.StudentProgress(r.Context(), channels.User, id)
	if err != nil {
		h.logger.Error("student progress failed", "error", err,
			"request_id", AuditContextFromContext(r.Context()).RequestID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch student progress")
		return
	}

	h.recorder.EmitAsync(AuditContextFromContext(r.Context()),
		"view_student_progress", "public.user_progress", id,
		map[string]any{"course_count": progress.TotalCourses})
	writeData(w, http.StatusOK, progress)
}

// HandleSearchStudents handles GET /api/students/search.
func (h *Handlers) HandleSearchStudents(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if query == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	channels := ChannelsFromContext(r.Context())
	students, err := h.svc.SearchStudents(r.Context(), channels.User, query)
	if err != nil {
		h.logger.Error("search students failed", "error", err,
			"request_id", AuditContextFromContext(r.Context()).RequestID)
		writeError(w, http.StatusInternalServerError, "Failed to search students")
		return
	}

	h.recorder.EmitAsync(AuditContextFromContext(r.Context()),
		"search_students", "public.users", "query",
		map[string]any{"query": query, "count": len(students)})
	writeList(w, http.StatusOK, students, len(students))
}
