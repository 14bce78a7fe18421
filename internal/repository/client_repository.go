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

const clientColumns = "id, user_id, full_name, status, number_of_students, created_at, updated_at"

// ClientRepository provides persistence for guardian/payer records.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// List returns clients with optional filtering and pagination.
func (r *ClientRepository) List(ctx context.Context, filter models.ClientFilter) ([]models.Client, int, error) {
	base := "FROM clients WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("full_name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at %s LIMIT %d OFFSET %d", clientColumns, base, order, size, offset)
	var clients []models.Client
	if err := r.db.SelectContext(ctx, &clients, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}

	return clients, total, nil
}

// FindByID loads a client by id.
func (r *ClientRepository) FindByID(ctx context.Context, id string) (*models.Client, error) {
	query := fmt.Sprintf("SELECT %s FROM clients WHERE id = $1", clientColumns)
	var client models.Client
	if err := r.db.GetContext(ctx, &client, query, id); err != nil {
		return nil, err
	}
	return &client, nil
}

// Create stores a new client record.
func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	const query = `INSERT INTO clients (id, user_id, full_name, status, number_of_students, created_at, updated_at) VALUES (:id, :user_id, :full_name, :status, :number_of_students, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, client); err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

// Update modifies a client record.
func (r *ClientRepository) Update(ctx context.Context, client *models.Client) error {
	client.UpdatedAt = time.Now().UTC()
	const query = `UPDATE clients SET full_name = :full_name, status = :status, number_of_students = :number_of_students, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, client); err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a client.
func (r *ClientRepository) UpdateStatus(ctx context.Context, id string, status models.LifecycleStatus) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE clients SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update client status: %w", err)
	}
	return nil
}

// SyncStudentCount refreshes the cached student count from the student links.
func (r *ClientRepository) SyncStudentCount(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE clients SET number_of_students = (SELECT COUNT(*) FROM students WHERE client_id = $1), updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("sync client student count: %w", err)
	}
	return nil
}

// AppendStatusHistory inserts one lifecycle history entry for a client.
func (r *ClientRepository) AppendStatusHistory(ctx context.Context, entry *models.StatusHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Recorded.IsZero() {
		entry.Recorded = time.Now().UTC()
	}
	const query = `INSERT INTO client_status_history (id, owner_id, status, date, end_date, added_by, ended_by, recorded_at) VALUES (:id, :owner_id, :status, :date, :end_date, :added_by, :ended_by, :recorded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append client status history: %w", err)
	}
	return nil
}

// CloseOpenStatusEntries stamps an end date on any open history entry for the status.
func (r *ClientRepository) CloseOpenStatusEntries(ctx context.Context, ownerID string, status models.LifecycleStatus, endDate time.Time, endedBy string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE client_status_history SET end_date = $1, ended_by = $2 WHERE owner_id = $3 AND status = $4 AND end_date IS NULL`, endDate, endedBy, ownerID, status); err != nil {
		return fmt.Errorf("close open client status entries: %w", err)
	}
	return nil
}

// ListStatusHistory returns all lifecycle history entries for a client.
func (r *ClientRepository) ListStatusHistory(ctx context.Context, ownerID string) ([]models.StatusHistoryEntry, error) {
	const query = `SELECT id, owner_id, status, date, end_date, added_by, ended_by, recorded_at FROM client_status_history WHERE owner_id = $1 ORDER BY date ASC`
	var entries []models.StatusHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, ownerID); err != nil {
		return nil, fmt.Errorf("list client status history: %w", err)
	}
	return entries, nil
}
