package ats_test

import (
	"context"
	"testing"

	ats "github.com/muasya/ats-go"
)

func argMap(args []ats.Arg) map[string]any {
	m := make(map[string]any, len(args))
	for _, a := range args {
		m[a.Name] = a.Value
	}
	return m
}

func TestCompanyAdminProfileParams_Args(t *testing.T) {
	args := ats.CompanyAdminProfileParams{UserID: "u1", UserEmail: "u1@example.com", CompanyName: "Acme"}.Args()
	names := []string{"user_id", "user_email", "company_name", "company_description"}
	if len(args) != len(names) {
		t.Fatalf("args = %+v", args)
	}
	for i, n := range names {
		if args[i].Name != n {
			t.Errorf("args[%d] = %q, want %q", i, args[i].Name, n)
		}
	}
	if args[3].Value != nil {
		t.Errorf("empty description = %v, want nil", args[3].Value)
	}
}

func TestCreateCompanyParams_Args(t *testing.T) {
	m := argMap(ats.CreateCompanyParams{
		UserID: "u1",
		Company: ats.CompanyInput{
			Name:     "Acme",
			Website:  "https://acme.test",
			Industry: ats.PlainIndustry("Energy"),
		},
	}.Args())
	if m["p_company_name"] != "Acme" || m["p_company_website"] != "https://acme.test" {
		t.Errorf("args = %v", m)
	}
	if m["p_company_description"] != nil || m["p_company_logo_url"] != nil {
		t.Errorf("empty strings must be nil: %v", m)
	}
	if ind, ok := m["p_company_industry"].(*ats.Industry); !ok || ind.Text != "Energy" {
		t.Errorf("industry = %#v", m["p_company_industry"])
	}
}

func TestCreateJobParams_Args(t *testing.T) {
	m := argMap(ats.CreateJobParams{
		UserID:    "u1",
		CompanyID: "c1",
		Job: ats.JobInput{
			Title:          "Engineer",
			LocationType:   ats.LocationRemote,
			EmploymentType: ats.EmploymentContract,
			Status:         ats.JobActive,
		},
	}.Args())
	if m["p_company_id"] != "c1" || m["p_location_type"] != "remote" || m["p_status"] != "active" {
		t.Errorf("args = %v", m)
	}
	if skills, _ := m["p_skills_required"].([]string); skills != nil {
		t.Errorf("empty skills = %v, want nil", skills)
	}
	if m["p_experience_level"] != nil || m["p_application_url"] != nil {
		t.Errorf("unset optionals must be nil: %v", m)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if ats.UserIDFromContext(ctx) != "" || ats.CompanyIDFromContext(ctx) != "" || ats.ClaimsFromContext(ctx) != nil {
		t.Fatal("empty context returned values")
	}
	claims := &ats.Claims{Subject: "u1"}
	ctx = ats.WithClaims(ats.WithCompanyID(ats.WithUserID(ctx, "u1"), "c1"), claims)
	if ats.UserIDFromContext(ctx) != "u1" || ats.CompanyIDFromContext(ctx) != "c1" || ats.ClaimsFromContext(ctx) != claims {
		t.Error("values not round-tripped through context")
	}
}
