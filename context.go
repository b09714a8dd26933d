package ats

import "context"

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "ats_user_id"
	ctxKeyCompanyID ctxKey = "ats_company_id"
	ctxKeyClaims    ctxKey = "ats_claims"
)

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext extracts the authenticated user ID from the context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

// WithCompanyID stores the company a request acts on.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, ctxKeyCompanyID, companyID)
}

// CompanyIDFromContext extracts the company a request acts on.
func CompanyIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCompanyID).(string)
	return v
}

// WithClaims stores verified token claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts verified token claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}
