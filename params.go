package ats

import "time"

// Claims are the standard claims of a verified session token.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	Extra     map[string]any
}

// CompanyInput carries user-entered company fields for create and update.
type CompanyInput struct {
	Name          string    `json:"name" validate:"required"`
	Description   string    `json:"description,omitempty"`
	Website       string    `json:"website,omitempty" validate:"omitempty,url"`
	LogoURL       string    `json:"logo_url,omitempty" validate:"omitempty,url"`
	Location      *Location `json:"location,omitempty"`
	Industry      *Industry `json:"industry,omitempty"`
	EmployeeCount *int      `json:"employee_count,omitempty" validate:"omitempty,min=0"`
	Founded       *int      `json:"founded,omitempty" validate:"omitempty,min=1800"`
	CEO           *CEO      `json:"ceo,omitempty"`
}

// JobInput carries user-entered job fields for create and update.
type JobInput struct {
	Title               string          `json:"title" validate:"min=3"`
	Description         string          `json:"description" validate:"min=5"`
	Requirements        string          `json:"requirements"`
	LocationType        LocationType    `json:"location_type" validate:"oneof=remote on_site hybrid"`
	Location            *JobLocation    `json:"location,omitempty"`
	EmploymentType      EmploymentType  `json:"employment_type" validate:"oneof=full_time part_time contract freelance internship"`
	SalaryRange         *SalaryRange    `json:"salary_range,omitempty"`
	ExperienceLevel     ExperienceLevel `json:"experience_level,omitempty" validate:"omitempty,oneof=entry mid senior executive"`
	SkillsRequired      []string        `json:"skills_required"`
	Status              JobStatus       `json:"status" validate:"omitempty,oneof=draft active paused closed archived"`
	ApplicationDeadline string          `json:"application_deadline,omitempty"`
	ApplicationURL      string          `json:"application_url,omitempty" validate:"omitempty,url"`
}

// CompanyAdminProfileParams are the arguments of create_company_admin_profile.
type CompanyAdminProfileParams struct {
	UserID             string `json:"user_id"`
	UserEmail          string `json:"user_email"`
	CompanyName        string `json:"company_name"`
	CompanyDescription string `json:"company_description"`
}

// CreateCompanyParams are the arguments of create_company_transaction.
type CreateCompanyParams struct {
	UserID    string       `json:"p_user_id"`
	UserEmail string       `json:"p_user_email"`
	Company   CompanyInput `json:"-"`
}

// CreateJobParams are the arguments of create_job_transaction.
type CreateJobParams struct {
	UserID    string   `json:"p_user_id"`
	CompanyID string   `json:"p_company_id"`
	Job       JobInput `json:"-"`
}

// Arg is one named argument of a remote procedure. A nil Value is SQL NULL.
type Arg struct {
	Name  string
	Value any
}

// Args returns the named arguments of create_company_admin_profile.
func (p CompanyAdminProfileParams) Args() []Arg {
	return []Arg{
		{"user_id", p.UserID},
		{"user_email", p.UserEmail},
		{"company_name", p.CompanyName},
		{"company_description", nullable(p.CompanyDescription)},
	}
}

// Args returns the named arguments of create_company_transaction. The
// company fields are flattened with a p_company_ prefix.
func (p CreateCompanyParams) Args() []Arg {
	c := p.Company
	return []Arg{
		{"p_user_id", p.UserID},
		{"p_user_email", p.UserEmail},
		{"p_company_name", c.Name},
		{"p_company_description", nullable(c.Description)},
		{"p_company_website", nullable(c.Website)},
		{"p_company_logo_url", nullable(c.LogoURL)},
		{"p_company_founded", c.Founded},
		{"p_company_employee_count", c.EmployeeCount},
		{"p_company_ceo", c.CEO},
		{"p_company_industry", c.Industry},
		{"p_company_location", c.Location},
	}
}

// Args returns the named arguments of create_job_transaction.
func (p CreateJobParams) Args() []Arg {
	j := p.Job
	var skills []string
	if len(j.SkillsRequired) > 0 {
		skills = j.SkillsRequired
	}
	return []Arg{
		{"p_user_id", p.UserID},
		{"p_company_id", p.CompanyID},
		{"p_title", j.Title},
		{"p_description", j.Description},
		{"p_requirements", j.Requirements},
		{"p_location_type", string(j.LocationType)},
		{"p_location", j.Location},
		{"p_employment_type", string(j.EmploymentType)},
		{"p_salary_range", j.SalaryRange},
		{"p_experience_level", nullable(string(j.ExperienceLevel))},
		{"p_skills_required", skills},
		{"p_status", string(j.Status)},
		{"p_application_deadline", nullable(j.ApplicationDeadline)},
		{"p_application_url", nullable(j.ApplicationURL)},
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
