package pgdata

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ats "github.com/muasya/ats-go"
)

func TestCallSQL(t *testing.T) {
	sql, vals := callSQL("create_company_admin_profile", ats.CompanyAdminProfileParams{
		UserID:      "u1",
		UserEmail:   "a@acme.test",
		CompanyName: "Acme",
	}.Args())

	want := "SELECT to_jsonb(r) FROM create_company_admin_profile(user_id => $1, user_email => $2, company_name => $3, company_description => $4) AS r"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(vals) != 4 || vals[0] != "u1" || vals[2] != "Acme" || vals[3] != nil {
		t.Errorf("vals = %v", vals)
	}
}

func TestCallSQL_JobArgumentsInOrder(t *testing.T) {
	args := ats.CreateJobParams{UserID: "u1", CompanyID: "c1", Job: ats.JobInput{Title: "Engineer"}}.Args()
	sql, vals := callSQL("create_job_transaction", args)
	if len(vals) != len(args) {
		t.Fatalf("vals = %d, args = %d", len(vals), len(args))
	}
	for i, a := range args {
		if want := fmt.Sprintf("%s => $%d", a.Name, i+1); !strings.Contains(sql, want) {
			t.Errorf("missing %q in %s", want, sql)
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ats.ErrNotFound},
		{"insufficient privilege", &pgconn.PgError{Code: "42501", Message: "no access"}, ats.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError("op", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapError = %v, want %v", got, tt.want)
			}
		})
	}

	fk := &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}
	got := mapError("delete company", fk)
	var pgErr *pgconn.PgError
	if !errors.As(got, &pgErr) || errors.Is(got, ats.ErrNotFound) || errors.Is(got, ats.ErrNotAuthorized) {
		t.Errorf("other driver errors pass through: %v", got)
	}
	if mapError("op", nil) != nil {
		t.Error("nil stays nil")
	}
}
