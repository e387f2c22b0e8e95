package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/program"
)

const programColumns = `id, university, name, degree, language, duration, tuition_fee, application_fee, currency, description, status,
	created_at, updated_at`

type ProgramRepository struct {
	db *sql.DB
}

func NewProgramRepository(db *sql.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

func scanProgram(row scanner) (*program.Program, error) {
	var p program.Program
	if err := row.Scan(&p.ID, &p.University, &p.Name, &p.Degree, &p.Language, &p.Duration, &p.TuitionFee, &p.ApplicationFee,
		&p.Currency, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProgramRepository) Create(ctx context.Context, p program.Program) (*program.Program, error) {
	p.ID = common.NewUUID()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `INSERT INTO programs (`+programColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.University, p.Name, p.Degree, p.Language, p.Duration, p.TuitionFee, p.ApplicationFee, p.Currency, p.Description, p.Status,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, storeError("failed to create program", err)
	}
	return &p, nil
}

func (r *ProgramRepository) Update(ctx context.Context, p program.Program) (*program.Program, error) {
	p.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `UPDATE programs SET university = $1, name = $2, degree = $3, language = $4, duration = $5,
		tuition_fee = $6, application_fee = $7, currency = $8, description = $9, status = $10, updated_at = $11
		WHERE id = $12`,
		p.University, p.Name, p.Degree, p.Language, p.Duration, p.TuitionFee, p.ApplicationFee, p.Currency, p.Description, p.Status,
		p.UpdatedAt, p.ID)
	if err != nil {
		return nil, storeError("failed to update program", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, common.NewError(common.CodeNotFound, "program not found", sql.ErrNoRows)
	}
	return &p, nil
}

func (r *ProgramRepository) GetByID(ctx context.Context, id common.UUID) (*program.Program, error) {
	p, err := scanProgram(r.db.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("program not found", err)
	}
	return p, nil
}

func (r *ProgramRepository) ListPublished(ctx context.Context, filter program.ListFilter) ([]program.Program, error) {
	args := []any{program.StatusPublished}
	where := []string{"status = $1"}
	addLike := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, "%"+value+"%")
			where = append(where, fmt.Sprintf("%s ILIKE $%d", column, len(args)))
		}
	}
	addLike("university", filter.University)
	addLike("degree", filter.Degree)
	addLike("language", filter.Language)
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM programs WHERE %s ORDER BY university, name LIMIT $%d OFFSET $%d`,
		programColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("failed to list programs", err)
	}
	defer rows.Close()
	var items []program.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, storeError("failed to scan program", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to list programs", err)
	}
	return items, nil
}
