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

const teacherColumns = "id, user_id, full_name, phone, expertise, active, manager_id, manager_name, end_date, created_at, updated_at"

// TeacherRepository provides persistence for tutor profiles.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository creates a new teacher repository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// List returns teachers with optional filtering and pagination.
func (r *TeacherRepository) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	base := "FROM teachers WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("full_name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.ManagerID != "" {
		conditions = append(conditions, fmt.Sprintf("manager_id = $%d", len(args)+1))
		args = append(args, filter.ManagerID)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY full_name %s LIMIT %d OFFSET %d", teacherColumns, base, order, size, offset)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teachers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count teachers: %w", err)
	}

	return teachers, total, nil
}

// FindByID loads a teacher by id.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	query := fmt.Sprintf("SELECT %s FROM teachers WHERE id = $1", teacherColumns)
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// ListByManager returns teachers supervised by the given manager user.
func (r *TeacherRepository) ListByManager(ctx context.Context, managerID string) ([]models.Teacher, error) {
	query := fmt.Sprintf("SELECT %s FROM teachers WHERE manager_id = $1", teacherColumns)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, managerID); err != nil {
		return nil, fmt.Errorf("list teachers by manager: %w", err)
	}
	return teachers, nil
}

// CountByManagerMarker counts teachers whose stored manager name carries the
// given display marker. Supervisor reactivation reports this count instead of
// restoring the links.
func (r *TeacherRepository) CountByManagerMarker(ctx context.Context, markedName string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM teachers WHERE manager_id IS NULL AND manager_name = $1`, markedName); err != nil {
		return 0, fmt.Errorf("count teachers by manager marker: %w", err)
	}
	return count, nil
}

// Create stores a new teacher record.
func (r *TeacherRepository) Create(ctx context.Context, teacher *models.Teacher) error {
	if teacher.ID == "" {
		teacher.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = now
	}
	teacher.UpdatedAt = now

	const query = `INSERT INTO teachers (id, user_id, full_name, phone, expertise, active, manager_id, manager_name, end_date, created_at, updated_at) VALUES (:id, :user_id, :full_name, :phone, :expertise, :active, :manager_id, :manager_name, :end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, teacher); err != nil {
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

// Update modifies a teacher record.
func (r *TeacherRepository) Update(ctx context.Context, teacher *models.Teacher) error {
	teacher.UpdatedAt = time.Now().UTC()
	const query = `UPDATE teachers SET full_name = :full_name, phone = :phone, expertise = :expertise, active = :active, manager_id = :manager_id, manager_name = :manager_name, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, teacher); err != nil {
		return fmt.Errorf("update teacher: %w", err)
	}
	return nil
}

// SetActive toggles a teacher profile.
func (r *TeacherRepository) SetActive(ctx context.Context, id string, active bool, endDate *time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE teachers SET active = $1, end_date = $2, updated_at = $3 WHERE id = $4`, active, endDate, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set teacher active: %w", err)
	}
	return nil
}

// DetachManager clears the manager link leaving a display marker behind.
func (r *TeacherRepository) DetachManager(ctx context.Context, teacherID, markedManagerName string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE teachers SET manager_id = NULL, manager_name = $1, updated_at = $2 WHERE id = $3`, markedManagerName, time.Now().UTC(), teacherID); err != nil {
		return fmt.Errorf("detach teacher manager: %w", err)
	}
	return nil
}
