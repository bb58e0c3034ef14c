// Package roster aggregates student, enrollment, and progress rows from the
// external data service into the shapes the API returns. All filtering and
// access control happens in the data service; this layer only composes
// sequential lookups and tolerates partial failures the same way the
// upstream rows tolerate missing data.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/teachme-ai/roster/internal/model"
	"github.com/teachme-ai/roster/internal/supabase"
)

// ErrNotFound reports that a student does not exist or is soft-deleted.
var ErrNotFound = errors.New("roster: student not found")

// studentColumns is the projection used for every student read.
const studentColumns = "id,email,full_name,gender,phone_number,profile_picture_url,bio,language_preference,created_at"

// enrichConcurrency caps the per-student enrichment fan-out.
const enrichConcurrency = 8

// Service aggregates roster data over a per-request data-service channel.
// The channel is passed per call because it carries the caller's credential
// and correlation headers.
type Service struct {
	logger *slog.Logger
}

// New creates a Service.
func New(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// ListStudents returns all non-deleted students, newest first, each with
// their active course enrollments and averaged progress.
func (s *Service) ListStudents(ctx context.Context, db *supabase.Client) ([]model.Student, error) {
	q := url.Values{}
	q.Set("select", studentColumns)
	q.Set("deleted_at", "is.null")
	q.Set("order", "created_at.desc")

	var students []model.Student
	if err := db.Select(ctx, "users", q, &students); err != nil {
		return nil, fmt.Errorf("roster: list students: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range students {
		g.Go(func() error {
			students[i].Courses = s.studentCourses(gctx, db, students[i].ID)
			return nil
		})
	}
	_ = g.Wait()

	return students, nil
}

// GetStudent returns one non-deleted student with enriched courses.
// Returns ErrNotFound when no such student exists.
func (s *Service) GetStudent(ctx context.Context, db *supabase.Client, id string) (model.Student, error) {
	q := url.Values{}
	q.Set("select", studentColumns)
	q.Set("id", "eq."+id)
	q.Set("deleted_at", "is.null")

	var student model.Student
	if err := db.SelectOne(ctx, "users", q, &student); err != nil {
		if supabase.IsNotFound(err) {
			return model.Student{}, ErrNotFound
		}
		return model.Student{}, fmt.Errorf("roster: get student: %w", err)
	}

	enrollments, err := s.activeEnrollments(ctx, db, id)
	if err != nil {
		return model.Student{}, fmt.Errorf("roster: get student enrollments: %w", err)
	}

	student.Courses = make([]model.StudentCourse, 0, len(enrollments))
	for _, e := range enrollments {
		if course, ok := s.courseWithProgress(ctx, db, id, e); ok {
			student.Courses = append(student.Courses, course)
		}
	}
	return student, nil
}

// SearchStudents returns non-deleted students whose name, email, or bio
// matches the query, newest first. Courses are filled from enrollments only;
// titles and progress are not resolved on the search path.
func (s *Service) SearchStudents(ctx context.Context, db *supabase.Client, query string) ([]model.Student, error) {
	q := url.Values{}
	q.Set("select", studentColumns)
	q.Set("deleted_at", "is.null")
	q.Set("or", fmt.Sprintf("(full_name.ilike.%%%s%%,email.ilike.%%%s%%,bio.ilike.%%%s%%)", query, query, query))
	q.Set("order", "created_at.desc")

	var students []model.Student
	if err := db.Select(ctx, "users", q, &students); err != nil {
		return nil, fmt.Errorf("roster: search students: %w", err)
	}

	for i := range students {
		students[i].Courses = []model.StudentCourse{}
		enrollments, err := s.activeEnrollments(ctx, db, students[i].ID)
		if err != nil {
			s.logger.Warn("roster: search enrollment lookup failed", "user_id", students[i].ID, "error", err)
			continue
		}
		for _, e := range enrollments {
			students[i].Courses = append(students[i].Courses, model.StudentCourse{
				ID:     e.CourseID,
				Title:  "Course " + strconv.FormatInt(e.CourseID, 10),
				Status: e.Status,
			})
		}
	}
	return students, nil
}

// StudentProgress returns the per-course and summary progress report for
// one student.
func (s *Service) StudentProgress(ctx context.Context, db *supabase.Client, id string) (model.StudentProgress, error) {
	enrollments, err := s.activeEnrollments(ctx, db, id)
	if err != nil {
		return model.StudentProgress{}, fmt.Errorf("roster: student progress: %w", err)
	}

	courses := make([]model.CourseProgress, 0, len(enrollments))
	for _, e := range enrollments {
		rows, err := s.progressRows(ctx, db, id, e.CourseID)
		if err != nil {
			s.logger.Warn("roster: progress lookup failed", "user_id", id, "course_id", e.CourseID, "error", err)
			courses = append(courses, model.CourseProgress{CourseID: e.CourseID, Status: "not_started"})
			continue
		}
		completed := 0
		for _, row := range rows {
			if row.Status == "completed" {
				completed++
			}
		}
		courses = append(courses, model.CourseProgress{
			CourseID:       e.CourseID,
			Progress:       averageCompletion(rows),
			CompletedItems: completed,
			TotalItems:     len(rows),
			Status:         e.Status,
		})
	}

	report := model.StudentProgress{
		StudentID:    id,
		TotalCourses: len(enrollments),
		Courses:      courses,
	}
	total := 0
	for _, c := range courses {
		total += c.Progress
		switch {
		case c.Progress == 100:
			report.CompletedCourses++
		case c.Progress > 0:
			report.InProgressCourses++
		}
	}
	if len(courses) > 0 {
		report.AverageProgress = int(math.Round(float64(total) / float64(len(courses))))
	}
	return report, nil
}

// CourseStudents returns the students actively enrolled in a course, each
// carrying a single course entry with their averaged progress in it.
func (s *Service) CourseStudents(ctx context.Context, db *supabase.Client, courseID int64) ([]model.Student, error) {
	q := url.Values{}
	q.Set("select", "user_id,status,enrolled_at")
	q.Set("course_id", "eq."+strconv.FormatInt(courseID, 10))
	q.Set("role", "eq.student")
	q.Set("status", "eq.active")

	var enrollments []model.Enrollment
	if err := db.Select(ctx, "enrollments", q, &enrollments); err != nil {
		return nil, fmt.Errorf("roster: course students: %w", err)
	}

	students := make([]model.Student, 0, len(enrollments))
	for _, e := range enrollments {
		sq := url.Values{}
		sq.Set("select", studentColumns)
		sq.Set("id", "eq."+e.UserID)
		sq.Set("deleted_at", "is.null")

		var student model.Student
		if err := db.SelectOne(ctx, "users", sq, &student); err != nil {
			if !supabase.IsNotFound(err) {
				s.logger.Warn("roster: course student lookup failed", "user_id", e.UserID, "error", err)
			}
			continue
		}

		rows, err := s.progressRows(ctx, db, e.UserID, courseID)
		if err != nil {
			s.logger.Warn("roster: progress lookup failed", "user_id", e.UserID, "course_id", courseID, "error", err)
		}
		student.Courses = []model.StudentCourse{{
			ID:       courseID,
			Title:    "Current Course",
			Progress: averageCompletion(rows),
			Status:   e.Status,
		}}
		students = append(students, student)
	}
	return students, nil
}

// studentCourses enriches one student's active enrollments into course
// entries with averaged progress. Lookup failures degrade to fewer or
// emptier entries rather than failing the student row.
func (s *Service) studentCourses(ctx context.Context, db *supabase.Client, userID string) []model.StudentCourse {
	enrollments, err := s.activeEnrollments(ctx, db, userID)
	if err != nil {
		s.logger.Warn("roster: enrollment lookup failed", "user_id", userID, "error", err)
		return []model.StudentCourse{}
	}

	courses := make([]model.StudentCourse, 0, len(enrollments))
	for _, e := range enrollments {
		if course, ok := s.courseWithProgress(ctx, db, userID, e); ok {
			courses = append(courses, course)
		}
	}
	return courses
}

// courseWithProgress resolves one enrollment into a course entry. Returns
// false when the course row is missing; progress failures degrade to 0.
func (s *Service) courseWithProgress(ctx context.Context, db *supabase.Client, userID string, e model.Enrollment) (model.StudentCourse, bool) {
	q := url.Values{}
	q.Set("select", "id,title,description,status")
	q.Set("id", "eq."+strconv.FormatInt(e.CourseID, 10))

	var course model.Course
	if err := db.SelectOne(ctx, "courses", q, &course); err != nil {
		if !supabase.IsNotFound(err) {
			s.logger.Warn("roster: course lookup failed", "course_id", e.CourseID, "error", err)
		}
		return model.StudentCourse{}, false
	}

	rows, err := s.progressRows(ctx, db, userID, e.CourseID)
	if err != nil {
		s.logger.Warn("roster: progress lookup failed", "user_id", userID, "course_id", e.CourseID, "error", err)
	}
	return model.StudentCourse{
		ID:       course.ID,
		Title:    course.Title,
		Progress: averageCompletion(rows),
		Status:   e.Status,
	}, true
}

func (s *Service) activeEnrollments(ctx context.Context, db *supabase.Client, userID string) ([]model.Enrollment, error) {
	q := url.Values{}
	q.Set("select", "course_id,status,enrolled_at")
	q.Set("user_id", "eq."+userID)
	q.Set("role", "eq.student")
	q.Set("status", "eq.active")

	var enrollments []model.Enrollment
	if err := db.Select(ctx, "enrollments", q, &enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *Service) progressRows(ctx context.Context, db *supabase.Client, userID string, courseID int64) ([]model.ProgressRow, error) {
	q := url.Values{}
	q.Set("select", "completion_percentage,status")
	q.Set("user_id", "eq."+userID)
	q.Set("course_id", "eq."+strconv.FormatInt(courseID, 10))

	var rows []model.ProgressRow
	if err := db.Select(ctx, "user_progress", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// averageCompletion rounds the mean completion percentage; no rows means 0.
func averageCompletion(rows []model.ProgressRow) int {
	if len(rows) == 0 {
		return 0
	}
	total := 0.0
	for _, row := range rows {
		total += row.CompletionPercentage
	}
	return int(math.Round(total / float64(len(rows))))
}
