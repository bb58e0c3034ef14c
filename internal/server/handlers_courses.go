package server

import (
	"net/http"
	"strconv"
)

// HandleCourseStudents handles GET /api/courses/{courseId}/students.
func (h *Handlers) HandleCourseStudents(w http.ResponseWriter, r *http.Request) {
	courseID, err := strconv.ParseInt(r.PathValue("courseId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid course id")
		return
	}

	channels := ChannelsFromContext(r.Context())
	students, err := h.svc.CourseStudents(r.Context(), channels.User, courseID)
	if err != nil {
		h.logger.Error("course students failed", "error", err,
			"request_id", AuditContextFromContext(r.Context()).RequestID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch course students")
		return
	}

	h.recorder.EmitAsync(AuditContextFromContext(r.Context()),
		"view_course_students", "public.courses", strconv.FormatInt(courseID, 10),
		map[string]any{"count": len(students)})
	writeList(w, http.StatusOK, students, len(students))
}
