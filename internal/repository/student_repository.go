package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ilmhub/tcm-api/internal/models"
)

const studentColumns = "id, user_id, client_id, full_name, status, created_at, updated_at"

// StudentRepository provides persistence for student enrollment records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students with optional filtering and pagination.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("full_name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ClientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)+1))
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"full_name": true, "status": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, base, sortBy, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}

	return students, total, nil
}

// FindByID loads a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListByClient returns every student owned by a client.
func (r *StudentRepository) ListByClient(ctx context.Context, clientID string) ([]models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE client_id = $1 ORDER BY full_name ASC", studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, clientID); err != nil {
		return nil, fmt.Errorf("list students by client: %w", err)
	}
	return students, nil
}

// Create stores a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now

	const query = `INSERT INTO students (id, user_id, client_id, full_name, status, created_at, updated_at) VALUES (:id, :user_id, :client_id, :full_name, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies a student record.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET client_id = :client_id, full_name = :full_name, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a student.
func (r *StudentRepository) UpdateStatus(ctx context.Context, id string, status models.LifecycleStatus) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE students SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	return nil
}

// UpdateFullName rewrites the stored display name.
func (r *StudentRepository) UpdateFullName(ctx context.Context, id, fullName string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE students SET full_name = $1, updated_at = $2 WHERE id = $3`, fullName, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update student name: %w", err)
	}
	return nil
}

// --- Status history ---

// AppendStatusHistory inserts one lifecycle history entry.
func (r *StudentRepository) AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Recorded.IsZero() {
		entry.Recorded = time.Now().UTC()
	}
	const query = `INSERT INTO student_status_history (id, owner_id, status, date, end_date, added_by, ended_by, recorded_at) VALUES (:id, :owner_id, :status, :date, :end_date, :added_by, :ended_by, :recorded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append student status history: %w", err)
	}
	return nil
}

// CloseOpenStatusEntries stamps an end date on any open history entry for the
// given status. The freeze list keeps at most one open entry, so this closes it.
func (r *StudentRepository) CloseOpenStatusEntries(ctx context.Context, ownerID string, status models.LifecycleStatus, endDate time.Time, endedBy string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE student_status_history SET end_date = $1, ended_by = $2 WHERE owner_id = $3 AND status = $4 AND end_date IS NULL`, endDate, endedBy, ownerID, status); err != nil {
		return fmt.Errorf("close open student status entries: %w", err)
	}
	return nil
}

// ListStatusHistory returns all lifecycle history entries for a student.
func (r *StudentRepository) ListStatusHistory(ctx context.Context, ownerID string) ([]models.StatusHistoryEntry, error) {
	const query = `SELECT id, owner_id, status, date, end_date, added_by, ended_by, recorded_at FROM student_status_history WHERE owner_id = $1 ORDER BY date ASC`
	var entries []models.StatusHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, ownerID); err != nil {
		return nil, fmt.Errorf("list student status history: %w", err)
	}
	return entries, nil
}

// --- Subject enrollment & activation ---

// HasSubject reports whether a student is enrolled in a subject.
func (r *StudentRepository) HasSubject(ctx context.Context, studentID, subjectID string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM student_subjects WHERE student_id = $1 AND subject_id = $2`, studentID, subjectID); err != nil {
		return false, fmt.Errorf("check student subject enrollment: %w", err)
	}
	return count > 0, nil
}

// AddSubject enrolls a student into a subject.
func (r *StudentRepository) AddSubject(ctx context.Context, studentID, subjectID string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO student_subjects (student_id, subject_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, studentID, subjectID); err != nil {
		return fmt.Errorf("add student subject: %w", err)
	}
	return nil
}

// GetSubjectStatus loads the activation record for a (student, subject) pair.
func (r *StudentRepository) GetSubjectStatus(ctx context.Context, studentID, subjectID string) (*models.SubjectStatus, error) {
	const query = `SELECT id, student_id, subject_id, is_active, last_activated_at, last_activated_by, last_deactivated_at, last_deactivated_by, updated_at FROM student_subject_status WHERE student_id = $1 AND subject_id = $2`
	var status models.SubjectStatus
	if err := r.db.GetContext(ctx, &status, query, studentID, subjectID); err != nil {
		return nil, err
	}
	return &status, nil
}

// UpsertSubjectStatus creates or replaces the single activation record for a
// (student, subject) pair.
func (r *StudentRepository) UpsertSubjectStatus(ctx context.Context, status *models.SubjectStatus) error {
	if status.ID == "" {
		status.ID = uuid.NewString()
	}
	status.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO student_subject_status (id, student_id, subject_id, is_active, last_activated_at, last_activated_by, last_deactivated_at, last_deactivated_by, updated_at)
		VALUES (:id, :student_id, :subject_id, :is_active, :last_activated_at, :last_activated_by, :last_deactivated_at, :last_deactivated_by, :updated_at)
		ON CONFLICT (student_id, subject_id) DO UPDATE SET is_active = EXCLUDED.is_active, last_activated_at = EXCLUDED.last_activated_at, last_activated_by = EXCLUDED.last_activated_by, last_deactivated_at = EXCLUDED.last_deactivated_at, last_deactivated_by = EXCLUDED.last_deactivated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, status); err != nil {
		return fmt.Errorf("upsert subject status: %w", err)
	}
	return nil
}

// ListActiveSubjects returns subject ids currently active for a student.
func (r *StudentRepository) ListActiveSubjects(ctx context.Context, studentID string) ([]string, error) {
	var subjects []string
	if err := r.db.SelectContext(ctx, &subjects, `SELECT subject_id FROM student_subject_status WHERE student_id = $1 AND is_active = TRUE`, studentID); err != nil {
		return nil, fmt.Errorf("list active subjects: %w", err)
	}
	return subjects, nil
}

// InsertSubjectEvent appends one activation/deactivation history record.
func (r *StudentRepository) InsertSubjectEvent(ctx context.Context, event *models.SubjectEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	const query = `INSERT INTO student_subject_events (id, student_id, subject_id, action, actor_id, actor_name, reason, occurred_at) VALUES (:id, :student_id, :subject_id, :action, :actor_id, :actor_name, :reason, :occurred_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert subject event: %w", err)
	}
	return nil
}

// ListSubjectEvents returns the chronologically merged activation and
// deactivation events for a (student, subject) pair, oldest first.
func (r *StudentRepository) ListSubjectEvents(ctx context.Context, studentID, subjectID string) ([]models.SubjectEvent, error) {
	const query = `SELECT id, student_id, subject_id, action, actor_id, actor_name, reason, occurred_at FROM student_subject_events WHERE student_id = $1 AND subject_id = $2 ORDER BY occurred_at ASC`
	var events []models.SubjectEvent
	if err := r.db.SelectContext(ctx, &events, query, studentID, subjectID); err != nil {
		return nil, fmt.Errorf("list subject events: %w", err)
	}
	return events, nil
}

// --- Teacher assignments ---

// FindAssignment returns the teacher assignment covering a subject for a student.
func (r *StudentRepository) FindAssignment(ctx context.Context, studentID, subjectID string) (*models.TeacherAssignment, error) {
	const query = `SELECT id, student_id, teacher_id, teacher_name, subject_id, subject_name, is_temporary, end_date, updated_at FROM student_teacher_assignments WHERE student_id = $1 AND subject_id = $2 ORDER BY updated_at DESC LIMIT 1`
	var assignment models.TeacherAssignment
	if err := r.db.GetContext(ctx, &assignment, query, studentID, subjectID); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListAssignmentsByTeacher returns assignments referencing a teacher.
func (r *StudentRepository) ListAssignmentsByTeacher(ctx context.Context, teacherID string) ([]models.TeacherAssignment, error) {
	const query = `SELECT id, student_id, teacher_id, teacher_name, subject_id, subject_name, is_temporary, end_date, updated_at FROM student_teacher_assignments WHERE teacher_id = $1`
	var assignments []models.TeacherAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, teacherID); err != nil {
		return nil, fmt.Errorf("list assignments by teacher: %w", err)
	}
	return assignments, nil
}

// ListDetachedAssignmentsByMarker returns assignments whose teacher reference
// was nulled and whose stored name matches the display marker exactly.
func (r *StudentRepository) ListDetachedAssignmentsByMarker(ctx context.Context, markedName string) ([]models.TeacherAssignment, error) {
	const query = `SELECT id, student_id, teacher_id, teacher_name, subject_id, subject_name, is_temporary, end_date, updated_at FROM student_teacher_assignments WHERE teacher_id IS NULL AND teacher_name = $1`
	var assignments []models.TeacherAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, markedName); err != nil {
		return nil, fmt.Errorf("list detached assignments: %w", err)
	}
	return assignments, nil
}

// UpsertAssignment creates or refreshes the assignment for a (student, teacher, subject) tuple.
func (r *StudentRepository) UpsertAssignment(ctx context.Context, assignment *models.TeacherAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO student_teacher_assignments (id, student_id, teacher_id, teacher_name, subject_id, subject_name, is_temporary, end_date, updated_at)
		VALUES (:id, :student_id, :teacher_id, :teacher_name, :subject_id, :subject_name, :is_temporary, :end_date, :updated_at)
		ON CONFLICT (id) DO UPDATE SET teacher_id = EXCLUDED.teacher_id, teacher_name = EXCLUDED.teacher_name, is_temporary = EXCLUDED.is_temporary, end_date = EXCLUDED.end_date, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("upsert teacher assignment: %w", err)
	}
	return nil
}

// MarkAssignmentTemporary flags an assignment while its teacher is inactive.
func (r *StudentRepository) MarkAssignmentTemporary(ctx context.Context, id, markedName string, endDate time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE student_teacher_assignments SET teacher_id = NULL, teacher_name = $1, is_temporary = TRUE, end_date = $2, updated_at = $3 WHERE id = $4`, markedName, endDate, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark assignment temporary: %w", err)
	}
	return nil
}

// RestoreAssignment reverses MarkAssignmentTemporary.
func (r *StudentRepository) RestoreAssignment(ctx context.Context, id, teacherID, teacherName string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE student_teacher_assignments SET teacher_id = $1, teacher_name = $2, is_temporary = FALSE, end_date = NULL, updated_at = $3 WHERE id = $4`, teacherID, teacherName, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("restore assignment: %w", err)
	}
	return nil
}
