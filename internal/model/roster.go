// Package model defines the wire and domain types shared across the roster API.
package model

import "time"

// Student is a user row joined with the courses the student is enrolled in.
type Student struct {
	ID                 string          `json:"id"`
	Email              string          `json:"email"`
	FullName           string          `json:"full_name"`
	Gender             string          `json:"gender"`
	PhoneNumber        string          `json:"phone_number"`
	ProfilePictureURL  string          `json:"profile_picture_url"`
	Bio                string          `json:"bio"`
	LanguagePreference string          `json:"language_preference"`
	CreatedAt          time.Time       `json:"created_at"`
	Courses            []StudentCourse `json:"courses"`
}

// StudentCourse is a course as seen from a student's perspective:
// the course identity plus the student's aggregated progress in it.
type StudentCourse struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// Course is a course row from the data service.
type Course struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Enrollment links a user to a course with a role and lifecycle status.
type Enrollment struct {
	CourseID   int64     `json:"course_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// ProgressRow is one user_progress row for a (user, course) pair.
type ProgressRow struct {
	CompletionPercentage float64 `json:"completion_percentage"`
	Status               string  `json:"status"`
}

// CourseProgress is the per-course progress aggregate for one student.
type CourseProgress struct {
	CourseID       int64  `json:"course_id"`
	Progress       int    `json:"progress"`
	CompletedItems int    `json:"completed_items"`
	TotalItems     int    `json:"total_items"`
	Status         string `json:"status"`
}

// StudentProgress is the full progress report for one student.
type StudentProgress struct {
	StudentID         string           `json:"student_id"`
	TotalCourses      int              `json:"total_courses"`
	CompletedCourses  int              `json:"completed_courses"`
	InProgressCourses int              `json:"in_progress_courses"`
	AverageProgress   int              `json:"average_progress"`
	Courses           []CourseProgress `json:"courses"`
}

// Membership associates a user with an institution and a role within it.
type Membership struct {
	UserID        string    `json:"user_id"`
	InstitutionID string    `json:"institution_id"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}
