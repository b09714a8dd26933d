// Package pgdata implements the row and procedure halves of the Remote Data
// Gateway directly on Postgres. Rows are read as jsonb so the column names
// match the JSON shape of the hosted gateway; procedures are the SQL
// functions in schema.sql, called with named arguments.
package pgdata

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ats "github.com/muasya/ats-go"
)

//go:embed schema.sql
var schema string

// insufficientPrivilege is the SQLSTATE raised by the procedures when the
// caller has no link to the company.
const insufficientPrivilege = "42501"

// DB implements ats.Tables and ats.Procedures.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ ats.Tables     = (*DB)(nil)
	_ ats.Procedures = (*DB)(nil)
)

// Option configures the DB.
type Option func(*DB)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// Open creates and verifies a connection pool.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("ats/pgdata: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ats/pgdata: ping: %w", err)
	}
	return New(pool, opts...), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *DB {
	d := &DB{pool: pool, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Close releases the pool.
func (d *DB) Close() { d.pool.Close() }

// Migrate creates the tables and procedures if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ats/pgdata: migrate: %w", err)
	}
	d.logger.Info("schema applied")
	return nil
}

// mapError translates driver errors into the root sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ats/pgdata: %s: %w", op, ats.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == insufficientPrivilege {
		return fmt.Errorf("ats/pgdata: %s: %s: %w", op, pgErr.Message, ats.ErrNotAuthorized)
	}
	return fmt.Errorf("ats/pgdata: %s: %w", op, err)
}

// queryRows runs a query whose single column is a jsonb row and decodes each.
func queryRows[T any](ctx context.Context, d *DB, op, sql string, args ...any) ([]T, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, mapError(op, err)
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("ats/pgdata: %s: decode: %w", op, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// queryRow is queryRows for exactly one row; none is ErrNotFound.
func queryRow[T any](ctx context.Context, d *DB, op, sql string, args ...any) (*T, error) {
	var raw []byte
	if err := d.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return nil, mapError(op, err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("ats/pgdata: %s: decode: %w", op, err)
	}
	return &v, nil
}

func (d *DB) exec(ctx context.Context, op, sql string, args ...any) (int64, error) {
	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(op, err)
	}
	return tag.RowsAffected(), nil
}

// --- Tables ---

func (d *DB) GetProfile(ctx context.Context, userID string) (*ats.Profile, error) {
	return queryRow[ats.Profile](ctx, d, "get profile",
		`SELECT to_jsonb(p) FROM profiles p WHERE p.id = $1`, userID)
}

func (d *DB) ListCompanyAdmins(ctx context.Context, userID string) ([]ats.CompanyAdmin, error) {
	return queryRows[ats.CompanyAdmin](ctx, d, "list company admins",
		`SELECT to_jsonb(a) FROM company_admins a WHERE a.user_id = $1 ORDER BY a.created_at`, userID)
}

func (d *DB) ListAgents(ctx context.Context, userID string) ([]ats.Agent, error) {
	return queryRows[ats.Agent](ctx, d, "list agents",
		`SELECT to_jsonb(a) FROM agents a WHERE a.user_id = $1 ORDER BY a.created_at`, userID)
}

func (d *DB) GetJobSeeker(ctx context.Context, userID string) (*ats.JobSeeker, error) {
	return queryRow[ats.JobSeeker](ctx, d, "get job seeker",
		`SELECT to_jsonb(s) FROM job_seekers s WHERE s.user_id = $1`, userID)
}

func (d *DB) HasCompanyAccess(ctx context.Context, userID, companyID string) (bool, error) {
	var ok bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM company_admins WHERE user_id = $1 AND company_id = $2)
		     OR EXISTS (SELECT 1 FROM agents WHERE user_id = $1 AND company_id = $2)`,
		userID, companyID,
	).Scan(&ok)
	if err != nil {
		return false, mapError("has company access", err)
	}
	return ok, nil
}

func (d *DB) ListCompanies(ctx context.Context, ids []string) ([]ats.Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return queryRows[ats.Company](ctx, d, "list companies",
		`SELECT to_jsonb(c) FROM companies c WHERE c.id = ANY($1::uuid[]) ORDER BY c.created_at, c.id`, ids)
}

func (d *DB) UpdateCompany(ctx context.Context, id string, in ats.CompanyInput) (*ats.Company, error) {
	return queryRow[ats.Company](ctx, d, "update company",
		`UPDATE companies AS c
		    SET name = $2, description = $3, website = $4, logo_url = $5,
		        location = $6, industry = $7, employee_count = $8, founded = $9, ceo = $10,
		        updated_at = now()
		  WHERE c.id = $1
		RETURNING to_jsonb(c)`,
		id, in.Name, nullable(in.Description), nullable(in.Website), nullable(in.LogoURL),
		in.Location, in.Industry, in.EmployeeCount, in.Founded, in.CEO)
}

func (d *DB) DeleteCompanyAdmins(ctx context.Context, companyID string) error {
	_, err := d.exec(ctx, "delete company admins", `DELETE FROM company_admins WHERE company_id = $1`, companyID)
	return err
}

func (d *DB) DeleteAgents(ctx context.Context, companyID string) error {
	_, err := d.exec(ctx, "delete agents", `DELETE FROM agents WHERE company_id = $1`, companyID)
	return err
}

func (d *DB) DeleteCompany(ctx context.Context, id string) error {
	n, err := d.exec(ctx, "delete company", `DELETE FROM companies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ats/pgdata: delete company %s: %w", id, ats.ErrNotFound)
	}
	return nil
}

func (d *DB) ListJobs(ctx context.Context, companyID string) ([]ats.Job, error) {
	return queryRows[ats.Job](ctx, d, "list jobs",
		`SELECT to_jsonb(j) FROM jobs j WHERE j.company_id = $1 ORDER BY j.created_at DESC, j.id`, companyID)
}

func (d *DB) UpdateJob(ctx context.Context, id string, in ats.JobInput) (*ats.Job, error) {
	skills := in.SkillsRequired
	if skills == nil {
		skills = []string{}
	}
	return queryRow[ats.Job](ctx, d, "update job",
		`UPDATE jobs AS j
		    SET title = $2, description = $3, requirements = $4, location_type = $5, location = $6,
		        employment_type = $7, salary_range = $8, experience_level = $9, skills_required = $10,
		        status = $11, application_deadline = $12, application_url = $13,
		        published_at = CASE WHEN $11 = 'active' AND j.published_at IS NULL THEN now() ELSE j.published_at END,
		        updated_at = now()
		  WHERE j.id = $1
		RETURNING to_jsonb(j)`,
		id, in.Title, in.Description, in.Requirements, string(in.LocationType), in.Location,
		string(in.EmploymentType), in.SalaryRange, nullable(string(in.ExperienceLevel)), skills,
		string(in.Status), nullable(in.ApplicationDeadline), nullable(in.ApplicationURL))
}

func (d *DB) DeleteJob(ctx context.Context, id string) error {
	n, err := d.exec(ctx, "delete job", `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ats/pgdata: delete job %s: %w", id, ats.ErrNotFound)
	}
	return nil
}

// --- Procedures ---

// callSQL builds a named-argument call of fn returning its row as jsonb.
func callSQL(fn string, args []ats.Arg) (string, []any) {
	var b strings.Builder
	vals := make([]any, len(args))
	b.WriteString("SELECT to_jsonb(r) FROM ")
	b.WriteString(fn)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s => $%d", a.Name, i+1)
		vals[i] = a.Value
	}
	b.WriteString(") AS r")
	return b.String(), vals
}

func call[T any](ctx context.Context, d *DB, fn string, args []ats.Arg) (*T, error) {
	sql, vals := callSQL(fn, args)
	v, err := queryRow[T](ctx, d, fn, sql, vals...)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("procedure called", "fn", fn)
	return v, nil
}

func (d *DB) CreateCompanyAdminProfile(ctx context.Context, p ats.CompanyAdminProfileParams) (*ats.Company, error) {
	return call[ats.Company](ctx, d, "create_company_admin_profile", p.Args())
}

func (d *DB) CreateCompanyTransaction(ctx context.Context, p ats.CreateCompanyParams) (*ats.Company, error) {
	return call[ats.Company](ctx, d, "create_company_transaction", p.Args())
}

func (d *DB) CreateJobTransaction(ctx context.Context, p ats.CreateJobParams) (*ats.Job, error) {
	return call[ats.Job](ctx, d, "create_job_transaction", p.Args())
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
