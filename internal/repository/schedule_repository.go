package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ilmhub/tcm-api/internal/models"
)

const scheduleColumns = "id, student_ids, student_names, teacher_id, teacher_name, subject_id, subject_name, class_date, start_time, end_time, day, is_recurring, recurrence_pattern, custom_days, recurrence_parent_id, status, session_status, class_started_at, class_ended_at, created_at, updated_at"

// ScheduleRepository provides persistence for class schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns schedules with optional filtering and pagination.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	base := "FROM schedules WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(student_ids)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Recurring != nil {
		conditions = append(conditions, fmt.Sprintf("is_recurring = $%d", len(args)+1))
		args = append(args, *filter.Recurring)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("class_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("class_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"class_date": true,
		"start_time": true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "class_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, start_time ASC LIMIT %d OFFSET %d", scheduleColumns, base, sortBy, order, size, offset)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	return schedules, total, nil
}

// FindByID loads a schedule by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE id = $1", scheduleColumns)
	var sched models.Schedule
	if err := r.db.GetContext(ctx, &sched, query, id); err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListRecurringByStudent returns every recurring schedule containing a student.
func (r *ScheduleRepository) ListRecurringByStudent(ctx context.Context, studentID string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE is_recurring = TRUE AND $1 = ANY(student_ids) ORDER BY class_date ASC, start_time ASC", scheduleColumns)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, studentID); err != nil {
		return nil, fmt.Errorf("list recurring schedules by student: %w", err)
	}
	return schedules, nil
}

// ListNonRecurringByStudent returns every non-recurring schedule containing a student.
func (r *ScheduleRepository) ListNonRecurringByStudent(ctx context.Context, studentID string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE is_recurring = FALSE AND $1 = ANY(student_ids) ORDER BY class_date ASC, start_time ASC", scheduleColumns)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, studentID); err != nil {
		return nil, fmt.Errorf("list non-recurring schedules by student: %w", err)
	}
	return schedules, nil
}

// ListByTeacher returns schedules referencing a teacher.
func (r *ScheduleRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE teacher_id = $1 ORDER BY class_date ASC, start_time ASC", scheduleColumns)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, teacherID); err != nil {
		return nil, fmt.Errorf("list schedules by teacher: %w", err)
	}
	return schedules, nil
}

// ListDetachedByMarker returns schedules whose teacher reference was nulled and
// whose stored teacher name matches the given display marker exactly.
func (r *ScheduleRepository) ListDetachedByMarker(ctx context.Context, markedName string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE teacher_id IS NULL AND teacher_name = $1", scheduleColumns)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, markedName); err != nil {
		return nil, fmt.Errorf("list detached schedules: %w", err)
	}
	return schedules, nil
}

// ListByStudent returns every schedule containing the given student.
func (r *ScheduleRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE $1 = ANY(student_ids)", scheduleColumns)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, studentID); err != nil {
		return nil, fmt.Errorf("list schedules by student: %w", err)
	}
	return schedules, nil
}

// ListRecurringForSubject returns recurring schedules matching a student,
// subject and (optionally) teacher with the given statuses.
func (r *ScheduleRepository) ListRecurringForSubject(ctx context.Context, studentID, subjectID, teacherID string, statuses []models.ScheduleStatus) ([]models.Schedule, error) {
	status := make([]string, len(statuses))
	for i, s := range statuses {
		status[i] = string(s)
	}
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE is_recurring = TRUE AND $1 = ANY(student_ids) AND subject_id = $2 AND status = ANY($3)", scheduleColumns)
	args := []interface{}{studentID, subjectID, pq.Array(status)}
	if teacherID != "" {
		query += " AND teacher_id = $4"
		args = append(args, teacherID)
	}
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list recurring schedules for subject: %w", err)
	}
	return schedules, nil
}

// FindLatestForPair returns the most recently updated schedule for a
// (student, subject) pair, optionally narrowed to a teacher.
func (r *ScheduleRepository) FindLatestForPair(ctx context.Context, studentID, subjectID, teacherID string) (*models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE $1 = ANY(student_ids) AND subject_id = $2", scheduleColumns)
	args := []interface{}{studentID, subjectID}
	if teacherID != "" {
		query += " AND teacher_id = $3"
		args = append(args, teacherID)
	}
	query += " ORDER BY updated_at DESC LIMIT 1"
	var sched models.Schedule
	if err := r.db.GetContext(ctx, &sched, query, args...); err != nil {
		return nil, err
	}
	return &sched, nil
}

// DistinctSubjectsForStudent returns the subject ids a student has any schedule for.
func (r *ScheduleRepository) DistinctSubjectsForStudent(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT DISTINCT subject_id FROM schedules WHERE $1 = ANY(student_ids)`
	var subjects []string
	if err := r.db.SelectContext(ctx, &subjects, query, studentID); err != nil {
		return nil, fmt.Errorf("list distinct subjects for student: %w", err)
	}
	return subjects, nil
}

// FindNearestPendingClass returns the single nearest future schedule for a
// (student, subject) pair that is still scheduled and pending.
func (r *ScheduleRepository) FindNearestPendingClass(ctx context.Context, studentID, subjectID string, from time.Time) (*models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE $1 = ANY(student_ids) AND subject_id = $2 AND class_date >= $3 AND status = $4 AND session_status = $5 ORDER BY class_date ASC, start_time ASC LIMIT 1", scheduleColumns)
	var sched models.Schedule
	err := r.db.GetContext(ctx, &sched, query, studentID, subjectID, from, models.ScheduleScheduled, models.SessionPending)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// FindNearestPendingByChain returns the nearest still-pending future
// occurrence belonging to the given recurrence chain root.
func (r *ScheduleRepository) FindNearestPendingByChain(ctx context.Context, chainRootID string, from time.Time) (*models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE (recurrence_parent_id = $1 OR id = $1) AND class_date >= $2 AND status = $3 AND session_status = $4 ORDER BY class_date ASC, start_time ASC LIMIT 1", scheduleColumns)
	var sched models.Schedule
	err := r.db.GetContext(ctx, &sched, query, chainRootID, from, models.ScheduleScheduled, models.SessionPending)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ExistsDuplicate checks for an existing schedule with an identical
// (students, teacher, subject, date, start, end) tuple. Used as the duplicate
// guard before every generated-schedule insert.
func (r *ScheduleRepository) ExistsDuplicate(ctx context.Context, key models.DuplicateKey) (bool, error) {
	query := `SELECT COUNT(*) FROM schedules WHERE student_ids = $1 AND subject_id = $2 AND class_date = $3 AND start_time = $4 AND end_time = $5`
	args := []interface{}{pq.Array(key.StudentIDs), key.SubjectID, key.ClassDate, key.StartTime, key.EndTime}
	if key.TeacherID != nil {
		query += " AND teacher_id = $6"
		args = append(args, *key.TeacherID)
	} else {
		query += " AND teacher_id IS NULL"
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("check duplicate schedule: %w", err)
	}
	return count > 0, nil
}

// FindOverlapping returns schedules for the same teacher and date whose time
// window overlaps the given one.
func (r *ScheduleRepository) FindOverlapping(ctx context.Context, teacherID string, classDate time.Time, startTime, endTime, excludeID string) ([]models.Schedule, error) {
	query := fmt.Sprintf("SELECT %s FROM schedules WHERE teacher_id = $1 AND class_date = $2 AND start_time < $3 AND end_time > $4 AND status NOT IN ($5, $6)", scheduleColumns)
	args := []interface{}{teacherID, classDate, endTime, startTime, models.ScheduleCancelled, models.ScheduleCompleted}
	if excludeID != "" {
		query += " AND id != $7"
		args = append(args, excludeID)
	}
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("find overlapping schedules: %w", err)
	}
	return schedules, nil
}

// Create stores a new schedule record.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	const query = `INSERT INTO schedules (id, student_ids, student_names, teacher_id, teacher_name, subject_id, subject_name, class_date, start_time, end_time, day, is_recurring, recurrence_pattern, custom_days, recurrence_parent_id, status, session_status, class_started_at, class_ended_at, created_at, updated_at) VALUES (:id, :student_ids, :student_names, :teacher_id, :teacher_name, :subject_id, :subject_name, :class_date, :start_time, :end_time, :day, :is_recurring, :recurrence_pattern, :custom_days, :recurrence_parent_id, :status, :session_status, :class_started_at, :class_ended_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Update modifies a schedule record.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedules SET student_ids = :student_ids, student_names = :student_names, teacher_id = :teacher_id, teacher_name = :teacher_name, subject_id = :subject_id, subject_name = :subject_name, class_date = :class_date, start_time = :start_time, end_time = :end_time, day = :day, is_recurring = :is_recurring, recurrence_pattern = :recurrence_pattern, custom_days = :custom_days, recurrence_parent_id = :recurrence_parent_id, status = :status, session_status = :session_status, class_started_at = :class_started_at, class_ended_at = :class_ended_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// SetRecurring flips the recurring flag on a single schedule.
func (r *ScheduleRepository) SetRecurring(ctx context.Context, id string, recurring bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET is_recurring = $1, updated_at = $2 WHERE id = $3`, recurring, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set schedule recurring: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetRecurringForStudents batch-flips the recurring flag on every schedule
// containing any of the given students and returns the number of rows changed.
func (r *ScheduleRepository) SetRecurringForStudents(ctx context.Context, studentIDs []string, recurring bool) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE schedules SET is_recurring = $1, updated_at = $2 WHERE student_ids && $3 AND is_recurring = $4`, recurring, time.Now().UTC(), pq.Array(studentIDs), !recurring)
	if err != nil {
		return 0, fmt.Errorf("batch set schedules recurring: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("batch set schedules recurring: %w", err)
	}
	return int(affected), nil
}

// DetachTeacher nulls the teacher reference while keeping the marked display name.
func (r *ScheduleRepository) DetachTeacher(ctx context.Context, id, markedName string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE schedules SET teacher_id = NULL, teacher_name = $1, updated_at = $2 WHERE id = $3`, markedName, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("detach teacher from schedule: %w", err)
	}
	return nil
}

// RestoreTeacher re-attaches a teacher reference and restores the plain name.
func (r *ScheduleRepository) RestoreTeacher(ctx context.Context, id, teacherID, teacherName string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE schedules SET teacher_id = $1, teacher_name = $2, updated_at = $3 WHERE id = $4`, teacherID, teacherName, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("restore teacher on schedule: %w", err)
	}
	return nil
}

// UpdateStudentNames rewrites the display string listing schedule participants.
func (r *ScheduleRepository) UpdateStudentNames(ctx context.Context, id, studentNames string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE schedules SET student_names = $1, updated_at = $2 WHERE id = $3`, studentNames, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update schedule student names: %w", err)
	}
	return nil
}

// Delete removes a schedule by id.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
