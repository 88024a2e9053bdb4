package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradiehub/internal/db"
	"tradiehub/internal/participant"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository stores offers and applications in PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const offerColumns = `id, homeowner_id, service_category_id, title, description, job_type,
    job_size, frequency, address, status, created_at, updated_at`

const applicationColumns = `id, job_offer_id, tradie_id, status, cover_letter,
    proposed_price::float8, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOffer(row scanner) (*JobOffer, error) {
	var o JobOffer
	var homeownerID int64
	var description, frequency sql.NullString
	err := row.Scan(&o.ID, &homeownerID, &o.ServiceCategoryID, &o.Title, &description, &o.JobType,
		&o.JobSize, &frequency, &o.Address, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	o.Homeowner = participant.NewHomeowner(homeownerID)
	o.Description = description.String
	o.Frequency = frequency.String
	return &o, nil
}

func scanApplication(row scanner) (*Application, error) {
	var a Application
	var tradieID int64
	var coverLetter sql.NullString
	var price sql.NullFloat64
	err := row.Scan(&a.ID, &a.JobOfferID, &tradieID, &a.Status, &coverLetter,
		&price, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	a.Tradie = participant.NewTradie(tradieID)
	a.CoverLetter = coverLetter.String
	if price.Valid {
		a.ProposedPrice = &price.Float64
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) CreateOffer(ctx context.Context, offer *JobOffer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO job_offers (homeowner_id, service_category_id, title, description, job_type,
            job_size, frequency, address, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query, offer.Homeowner.ID, offer.ServiceCategoryID, offer.Title,
		nullString(offer.Description), offer.JobType, offer.JobSize, nullString(offer.Frequency),
		offer.Address, offer.Status).Scan(&offer.ID, &offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job offer: %w", err)
	}

	for i := range offer.Photos {
		p := &offer.Photos[i]
		err := tx.QueryRowContext(ctx,
			`INSERT INTO job_offer_photos (job_offer_id, file_path, file_size) VALUES ($1, $2, $3) RETURNING id`,
			offer.ID, p.FilePath, p.FileSize).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("insert job photo: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) GetOffer(ctx context.Context, jobID int64) (*JobOffer, error) {
	offer, err := scanOffer(r.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM job_offers WHERE id = $1`, jobID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_path, COALESCE(file_size, 0) FROM job_offer_photos WHERE job_offer_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Photo
		if err := rows.Scan(&p.ID, &p.FilePath, &p.FileSize); err != nil {
			return nil, err
		}
		offer.Photos = append(offer.Photos, p)
	}
	return offer, rows.Err()
}

func (r *PostgresRepository) GetApplication(ctx context.Context, applicationID int64) (*Application, error) {
	return scanApplication(r.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM job_applications WHERE id = $1`, applicationID))
}

func (r *PostgresRepository) ListApplications(ctx context.Context, jobID int64) ([]*Application, error) {
	return listApplications(ctx, r.db, jobID, "")
}

func listApplications(ctx context.Context, q queryer, jobID int64, lock string) ([]*Application, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM job_applications WHERE job_offer_id = $1 ORDER BY created_at, id`+lock, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (r *PostgresRepository) Apply(ctx context.Context, app *Application, check func(*JobOffer) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := scanOffer(tx.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM job_offers WHERE id = $1 FOR SHARE`, app.JobOfferID))
	if err != nil {
		return err
	}
	if err := check(job); err != nil {
		return err
	}

	query := `
        INSERT INTO job_applications (job_offer_id, tradie_id, status, cover_letter, proposed_price)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	var price sql.NullFloat64
	if app.ProposedPrice != nil {
		price = sql.NullFloat64{Float64: *app.ProposedPrice, Valid: true}
	}
	err = tx.QueryRowContext(ctx, query, app.JobOfferID, app.Tradie.ID, app.Status,
		nullString(app.CoverLetter), price).Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateApplication
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return tx.Commit()
}

// Transition locks the job row and its applications for the length of the
// transaction. Every status change is conditional on the status the plan
// was computed from.
func (r *PostgresRepository) Transition(ctx context.Context, jobID int64, plan func(*JobOffer, []*Application) (*Plan, error)) (*Plan, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := scanOffer(tx.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM job_offers WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		return nil, err
	}
	apps, err := listApplications(ctx, tx, jobID, " FOR UPDATE")
	if err != nil {
		return nil, err
	}

	p, err := plan(job, apps)
	if err != nil {
		return nil, err
	}

	for _, c := range p.Changes {
		ok, err := updateApplicationStatus(ctx, tx, c.ApplicationID, c.From, c.To)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return nil, ErrJobAlreadyDecided
			}
			return nil, err
		}
		if !ok {
			return nil, ErrApplicationNotPending
		}
	}
	if p.JobStatus != "" {
		_, err := tx.ExecContext(ctx,
			`UPDATE job_offers SET status = $1, updated_at = NOW() WHERE id = $2`, p.JobStatus, jobID)
		if err != nil {
			return nil, fmt.Errorf("update job status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) UpdateApplicationStatus(ctx context.Context, applicationID int64, from, to ApplicationStatus) (bool, error) {
	return updateApplicationStatus(ctx, r.db, applicationID, from, to)
}

func updateApplicationStatus(ctx context.Context, q queryer, applicationID int64, from, to ApplicationStatus) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE job_applications SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, applicationID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
