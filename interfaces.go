package ats

import "context"

// AuthEvent names an authentication-state change delivered by the gateway.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthListener receives auth-state changes. session is nil after sign-out.
type AuthListener func(event AuthEvent, session *Session)

// AuthProvider is the session half of the Remote Data Gateway.
type AuthProvider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)

	// SignInWithPassword authenticates with email and password.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInWithOAuth returns the provider URL the user must visit.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)

	// SignUp registers a new identity. The returned session is nil when
	// the provider requires email confirmation first.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, *Session, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// OnAuthStateChange subscribes to auth changes and returns the unsubscribe func.
	// Events caused by SignInWithPassword, SignUp and SignOut are delivered
	// before those calls return.
	OnAuthStateChange(fn AuthListener) (unsubscribe func())
}

// Tables is row access on the named collections of the gateway.
// Single-row reads return ErrNotFound when no row matches.
type Tables interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	ListCompanyAdmins(ctx context.Context, userID string) ([]CompanyAdmin, error)
	ListAgents(ctx context.Context, userID string) ([]Agent, error)
	GetJobSeeker(ctx context.Context, userID string) (*JobSeeker, error)

	// HasCompanyAccess reports whether an admin or agent link joins user and company.
	HasCompanyAccess(ctx context.Context, userID, companyID string) (bool, error)

	// ListCompanies returns the companies with the given ids, oldest first.
	ListCompanies(ctx context.Context, ids []string) ([]Company, error)
	UpdateCompany(ctx context.Context, id string, in CompanyInput) (*Company, error)
	DeleteCompanyAdmins(ctx context.Context, companyID string) error
	DeleteAgents(ctx context.Context, companyID string) error
	DeleteCompany(ctx context.Context, id string) error

	// ListJobs returns the jobs of a company, newest first.
	ListJobs(ctx context.Context, companyID string) ([]Job, error)
	UpdateJob(ctx context.Context, id string, in JobInput) (*Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// Procedures are the atomic server-side operations of the gateway.
type Procedures interface {
	// CreateCompanyAdminProfile creates the profile, company and owner link as one unit.
	CreateCompanyAdminProfile(ctx context.Context, p CompanyAdminProfileParams) (*Company, error)

	// CreateCompanyTransaction inserts a company and its owner link as one unit.
	CreateCompanyTransaction(ctx context.Context, p CreateCompanyParams) (*Company, error)

	// CreateJobTransaction authorizes, validates and inserts a job as one unit.
	CreateJobTransaction(ctx context.Context, p CreateJobParams) (*Job, error)
}

// Gateway is the full Remote Data Gateway consumed by the slices.
type Gateway interface {
	AuthProvider
	Tables
	Procedures
}

// Compose joins independently provided halves into a Gateway, e.g. hosted
// auth with direct Postgres rows.
func Compose(auth AuthProvider, tables Tables, procs Procedures) Gateway {
	return composed{auth, tables, procs}
}

type composed struct {
	AuthProvider
	Tables
	Procedures
}

// Storage is durable local key-value storage.
type Storage interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// TokenVerifier validates gateway session tokens.
// Implementations: jwks/ (JWT via JWKS).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}
