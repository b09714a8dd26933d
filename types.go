package ats

import "time"

// UserType is the application-level role carried by a Profile.
type UserType string

const (
	UserTypeSuperAdmin   UserType = "super_admin"
	UserTypeCompanyAdmin UserType = "company_admin"
	UserTypeAgent        UserType = "agent"
	UserTypeJobSeeker    UserType = "job_seeker"
)

// Identity is the authenticated principal returned by the session provider.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the gateway-held authentication session. The access token is
// opaque to the core and only mirrored locally.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Identity  `json:"user"`
}

// Expired reports whether the session has a known expiry in the past.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Profile is application-level metadata for an Identity.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	UserType  UserType  `json:"user_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Company is a tenant.
type Company struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LogoURL       string    `json:"logo_url,omitempty"`
	Website       string    `json:"website,omitempty"`
	Location      *Location `json:"location,omitempty"`
	Industry      *Industry `json:"industry,omitempty"`
	EmployeeCount *int      `json:"employee_count,omitempty"`
	Founded       *int      `json:"founded,omitempty"`
	CEO           *CEO      `json:"ceo,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Role values of a CompanyAdmin link.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// CompanyAdmin links an Identity to a Company it administers.
type CompanyAdmin struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent links non-admin staff to a Company with named permissions.
type Agent struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	CompanyID   string          `json:"company_id"`
	Permissions map[string]bool `json:"permissions"`
	CreatedAt   time.Time       `json:"created_at"`
}

// JobSeeker is the record loaded for job_seeker profiles.
type JobSeeker struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ResumeURL       string    `json:"resume_url,omitempty"`
	Skills          []string  `json:"skills"`
	ExperienceYears *int      `json:"experience_years,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// LocationType of a job posting.
type LocationType string

const (
	LocationRemote LocationType = "remote"
	LocationOnSite LocationType = "on_site"
	LocationHybrid LocationType = "hybrid"
)

// EmploymentType of a job posting.
type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "full_time"
	EmploymentPartTime   EmploymentType = "part_time"
	EmploymentContract   EmploymentType = "contract"
	EmploymentFreelance  EmploymentType = "freelance"
	EmploymentInternship EmploymentType = "internship"
)

// ExperienceLevel of a job posting.
type ExperienceLevel string

const (
	ExperienceEntry     ExperienceLevel = "entry"
	ExperienceMid       ExperienceLevel = "mid"
	ExperienceSenior    ExperienceLevel = "senior"
	ExperienceExecutive ExperienceLevel = "executive"
)

// JobStatus is the lifecycle state of a posting.
type JobStatus string

const (
	JobDraft    JobStatus = "draft"
	JobActive   JobStatus = "active"
	JobPaused   JobStatus = "paused"
	JobClosed   JobStatus = "closed"
	JobArchived JobStatus = "archived"
)

// SalaryPeriod of a salary range.
type SalaryPeriod string

const (
	PeriodYearly  SalaryPeriod = "yearly"
	PeriodMonthly SalaryPeriod = "monthly"
	PeriodHourly  SalaryPeriod = "hourly"
)

// JobLocation is only meaningful when LocationType is not remote.
type JobLocation struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// SalaryRange of a posting. Min <= Max.
type SalaryRange struct {
	Min      float64      `json:"min" validate:"min=0"`
	Max      float64      `json:"max" validate:"min=0"`
	Currency string       `json:"currency"`
	Period   SalaryPeriod `json:"period" validate:"omitempty,oneof=yearly monthly hourly"`
}

// Job is a posting owned by exactly one Company.
type Job struct {
	ID                  string          `json:"id"`
	CompanyID           string          `json:"company_id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Requirements        string          `json:"requirements"`
	LocationType        LocationType    `json:"location_type"`
	Location            *JobLocation    `json:"location,omitempty"`
	EmploymentType      EmploymentType  `json:"employment_type"`
	SalaryRange         *SalaryRange    `json:"salary_range,omitempty"`
	ExperienceLevel     ExperienceLevel `json:"experience_level,omitempty"`
	SkillsRequired      []string        `json:"skills_required"`
	Status              JobStatus       `json:"status"`
	ApplicationDeadline string          `json:"application_deadline,omitempty"`
	ApplicationURL      string          `json:"application_url,omitempty"`
	ViewsCount          int             `json:"views_count"`
	ApplicationsCount   int             `json:"applications_count"`
	CreatedBy           string          `json:"created_by"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	PublishedAt         *time.Time      `json:"published_at,omitempty"`
}

// Domain keys of the status slice.
type Domain string

const (
	DomainAuth      Domain = "auth"
	DomainProfile   Domain = "profile"
	DomainCompanies Domain = "companies"
	DomainJobs      Domain = "jobs"
)

// Domains lists every status domain in a fixed order.
var Domains = []Domain{DomainAuth, DomainProfile, DomainCompanies, DomainJobs}

// Error codes recorded in the status slice.
const (
	CodeAuthInit      = "AUTH_INIT_ERROR"
	CodeAuthCallback  = "AUTH_CALLBACK_ERROR"
	CodeSignOut       = "SIGNOUT_ERROR"
	CodeProfileFetch  = "PROFILE_FETCH_ERROR"
	CodeUserDataFetch = "USER_DATA_FETCH_ERROR"
	CodeJobsFetch     = "JOBS_FETCH_ERROR"
)

// AppError is a structured error record shown to presentation.
type AppError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAppError builds an AppError from err, stamped now.
func NewAppError(code string, err error) *AppError {
	return &AppError{Message: err.Error(), Code: code, Timestamp: time.Now()}
}
