package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
)

// LeadRepository reads and updates telemarketing leads in the CRM store.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

type leadRecord struct {
	ID      uuid.UUID `db:"id"`
	Name    string    `db:"name"`
	Phone   string    `db:"phone"`
	Company string    `db:"company"`
	Status  string    `db:"status"`
}

func (r leadRecord) toModel() domain.Lead {
	return domain.Lead{
		ID:      r.ID,
		Name:    r.Name,
		Phone:   r.Phone,
		Company: r.Company,
		Status:  domain.LeadStatus(r.Status),
	}
}

// NextQueue fetches pending leads in creation order for a dial run.
func (r *LeadRepository) NextQueue(ctx context.Context, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, phone, company, status
		FROM telemarketing_leads
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("leads: select queue: %w", err)
	}
	defer rows.Close()

	var leads []domain.Lead
	for rows.Next() {
		var rec leadRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("leads: scan: %w", err)
		}
		leads = append(leads, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: rows err: %w", err)
	}
	return leads, nil
}

// Get fetches a single lead.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var rec leadRecord
	err := r.db.GetContext(ctx, &rec, `SELECT id, name, phone, company, status
		FROM telemarketing_leads WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("leads: get: %w", err)
	}
	lead := rec.toModel()
	return &lead, nil
}

// SetStatus applies a dial outcome to the lead and stamps the contact
// attempt.
func (r *LeadRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus, note string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE telemarketing_leads
			SET status = $1, last_contacted_at = $2, updated_at = $2
			WHERE id = $3`, string(status), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("leads: update status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("leads: rows affected: %w", err)
		}
		if affected == 0 {
			return repository.ErrNotFound
		}

		if note != "" {
			if _, err := tx.ExecContext(ctx, `INSERT INTO lead_notes (id, lead_id, note, created_at)
				VALUES ($1, $2, $3, $4)`, uuid.New(), id, note, time.Now().UTC()); err != nil {
				return fmt.Errorf("leads: insert note: %w", err)
			}
		}
		return nil
	})
}
