package ats_test

import (
	"errors"
	"testing"
	"time"

	ats "github.com/muasya/ats-go"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var verr *ats.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	out := make(map[string]string, len(verr.Fields))
	for _, f := range verr.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestValidateCompany_Trims(t *testing.T) {
	in, err := ats.ValidateCompany(ats.CompanyInput{Name: "  Acme  ", Website: " https://acme.test "}, now)
	if err != nil {
		t.Fatalf("ValidateCompany() error: %v", err)
	}
	if in.Name != "Acme" || in.Website != "https://acme.test" {
		t.Errorf("normalized = %+v", in)
	}
}

func TestValidateCompany_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		in    ats.CompanyInput
		field string
	}{
		{"blank name", ats.CompanyInput{Name: "   "}, "name"},
		{"relative website", ats.CompanyInput{Name: "A", Website: "acme.test"}, "website"},
		{"bad logo", ats.CompanyInput{Name: "A", LogoURL: "logo.png"}, "logo_url"},
		{"negative employees", ats.CompanyInput{Name: "A", EmployeeCount: intp(-1)}, "employee_count"},
		{"founded too early", ats.CompanyInput{Name: "A", Founded: intp(1799)}, "founded"},
		{"founded in future", ats.CompanyInput{Name: "A", Founded: intp(2027)}, "founded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ats.ValidateCompany(tt.in, now)
			if _, ok := fields(t, err)[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", err, tt.field)
			}
		})
	}
}

func TestValidateCompany_FoundedBounds(t *testing.T) {
	for _, y := range []int{ats.MinFoundedYear, now.Year()} {
		if _, err := ats.ValidateCompany(ats.CompanyInput{Name: "A", Founded: intp(y)}, now); err != nil {
			t.Errorf("founded %d: %v", y, err)
		}
	}
}

func validJob() ats.JobInput {
	return ats.JobInput{
		Title:          "Backend Engineer",
		Description:    "Build services",
		LocationType:   ats.LocationOnSite,
		Location:       &ats.JobLocation{City: "Nairobi"},
		EmploymentType: ats.EmploymentFullTime,
	}
}

func TestValidateJob_Defaults(t *testing.T) {
	in := validJob()
	in.SalaryRange = &ats.SalaryRange{Min: 10, Max: 20}
	in.SkillsRequired = []string{" go ", "", "sql"}

	out, err := ats.ValidateJob(in)
	if err != nil {
		t.Fatalf("ValidateJob() error: %v", err)
	}
	if out.Status != ats.JobDraft {
		t.Errorf("status = %q, want draft", out.Status)
	}
	if out.SalaryRange.Currency != ats.DefaultCurrency || out.SalaryRange.Period != ats.PeriodYearly {
		t.Errorf("salary = %+v", out.SalaryRange)
	}
	if len(out.SkillsRequired) != 2 || out.SkillsRequired[0] != "go" {
		t.Errorf("skills = %q", out.SkillsRequired)
	}
	if in.SalaryRange.Currency != "" {
		t.Error("caller's salary range was modified")
	}
}

func TestValidateJob_RemoteDropsLocation(t *testing.T) {
	in := validJob()
	in.LocationType = ats.LocationRemote
	out, err := ats.ValidateJob(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Location != nil {
		t.Errorf("location = %+v, want nil for remote", out.Location)
	}
}

func TestValidateJob_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ats.JobInput)
		field  string
	}{
		{"short title", func(j *ats.JobInput) { j.Title = "ab" }, "title"},
		{"short description", func(j *ats.JobInput) { j.Description = "hi" }, "description"},
		{"bad location type", func(j *ats.JobInput) { j.LocationType = "moon" }, "location_type"},
		{"bad employment", func(j *ats.JobInput) { j.EmploymentType = "gig" }, "employment_type"},
		{"bad level", func(j *ats.JobInput) { j.ExperienceLevel = "guru" }, "experience_level"},
		{"bad status", func(j *ats.JobInput) { j.Status = "deleted" }, "status"},
		{"negative salary", func(j *ats.JobInput) { j.SalaryRange = &ats.SalaryRange{Min: -1, Max: 5} }, "salary_range.min"},
		{"min above max", func(j *ats.JobInput) { j.SalaryRange = &ats.SalaryRange{Min: 9, Max: 5} }, "salary_range"},
		{"bad deadline", func(j *ats.JobInput) { j.ApplicationDeadline = "next week" }, "application_deadline"},
		{"relative url", func(j *ats.JobInput) { j.ApplicationURL = "/apply" }, "application_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validJob()
			tt.mutate(&in)
			_, err := ats.ValidateJob(in)
			if _, ok := fields(t, err)[tt.field]; !ok {
				t.Errorf("err = %v, want field %q", err, tt.field)
			}
		})
	}
}

func TestParseDeadline(t *testing.T) {
	for _, s := range []string{"2026-05-01", "2026-05-01T09:00:00Z", "2026-05-01T09:00:00+03:00"} {
		if _, err := ats.ParseDeadline(s); err != nil {
			t.Errorf("ParseDeadline(%q) error: %v", s, err)
		}
	}
	if _, err := ats.ParseDeadline("01/05/2026"); err == nil {
		t.Error("ParseDeadline accepted a non-ISO date")
	}
}

func TestValidationError_Message(t *testing.T) {
	_, err := ats.ValidateCompany(ats.CompanyInput{}, now)
	if err == nil || err.Error() != "ats: invalid input: name: is required" {
		t.Errorf("Error() = %v", err)
	}
}

func TestSessionExpired(t *testing.T) {
	s := &ats.Session{}
	if s.Expired(now) {
		t.Error("session without expiry reported expired")
	}
	s.ExpiresAt = now.Add(-time.Second)
	if !s.Expired(now) {
		t.Error("past expiry not reported")
	}
}
