// Package httpapi is the presentation boundary: a JSON snapshot of the store,
// a revision event stream and one route per intent.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/store"
)

// DashboardPath is where a completed OAuth sign-in lands.
const DashboardPath = "/dashboard"

// CodeExchanger finishes an OAuth redirect that carries an authorization code.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*ats.Session, error)
}

// Server exposes a store over HTTP.
type Server struct {
	store     *store.Store
	verifier  ats.TokenVerifier
	exchanger CodeExchanger
	metrics   http.Handler
	logger    *slog.Logger
	engine    *gin.Engine
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVerifier requires a verified bearer token on session routes.
func WithVerifier(v ats.TokenVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithCodeExchanger enables the ?code= form of the OAuth callback.
func WithCodeExchanger(x CodeExchanger) Option {
	return func(s *Server) { s.exchanger = x }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// New builds the routes for st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{store: st, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	r.GET("/auth/callback", s.oauthCallback)

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.GET("/events", s.events)
	api.POST("/auth/sign-in", s.signIn)
	api.POST("/auth/sign-up", s.signUp)
	api.POST("/auth/oauth", s.oauthStart)
	api.POST("/menu/toggle", s.toggleSidebar)

	authed := api.Group("", s.RequireSession())
	authed.POST("/auth/sign-out", s.signOut)
	authed.POST("/refresh", s.refresh)
	authed.GET("/permissions/:company/:permission", s.permission)
	authed.PUT("/companies/current", s.setCurrentCompany)
	authed.POST("/companies/switch", s.switchCompany)
	authed.POST("/companies", s.createCompany)
	authed.PATCH("/companies/:id", s.updateCompany)
	authed.DELETE("/companies/:id", s.deleteCompany)
	authed.POST("/jobs", s.createJob)
	authed.PATCH("/jobs/:id", s.updateJob)
	authed.DELETE("/jobs/:id", s.deleteJob)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"request_id", c.GetString(KeyRequestID),
		)
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *ats.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid input", "fields": verr.Fields})
		return
	case errors.Is(err, ats.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ats.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ats.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ats.ErrNoCompanySelected), errors.Is(err, ats.ErrSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Warn("gateway failure", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}

// bind decodes the JSON body. Binding-tag failures are left to the store's
// own validation so the caller sees one error shape.
func bind(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	var verrs validator.ValidationErrors
	if err == nil || errors.As(err, &verrs) {
		return true
	}
	if errors.Is(err, io.EOF) {
		err = errors.New("request body is empty")
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return false
}

// --- read side ---

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.State())
}

// events streams store revisions as server-sent events until the client
// goes away.
func (s *Server) events(c *gin.Context) {
	ch, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	c.SSEvent("revision", strconv.FormatUint(s.store.Revision(), 10))
	c.Stream(func(w io.Writer) bool {
		select {
		case rev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("revision", strconv.FormatUint(rev, 10))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) permission(c *gin.Context) {
	allowed := s.store.HasPermission(c.Param("permission"), c.Param("company"))
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// --- auth ---

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}
	// The gateways do not classify credential errors, so every failure here
	// is reported as 401.
	if err := s.store.SignInWithPassword(c.Request.Context(), req.Email, req.Password); err != nil {
		s.logger.Info("sign-in rejected", "err", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.store.State())
}

func (s *Server) signUp(c *gin.Context) {
	var req store.RegisterInput
	if !bind(c, &req) {
		return
	}
	res, err := s.store.Register(c.Request.Context(), req)
	if err != nil && res == nil {
		s.writeError(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("registered but sign-in did not settle", "err", err)
	}
	c.JSON(http.StatusCreated, res)
}

type oauthRequest struct {
	Provider   string `json:"provider" binding:"required"`
	RedirectTo string `json:"redirect_to"`
}

func (s *Server) oauthStart(c *gin.Context) {
	var req oauthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}
	u, err := s.store.SignInWithOAuth(c.Request.Context(), req.Provider, req.RedirectTo)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

// oauthCallback finishes an OAuth redirect and sends the browser to the
// dashboard, or to the login page with the error.
func (s *Server) oauthCallback(c *gin.Context) {
	ctx := c.Request.Context()
	if msg := c.Query("error_description"); msg != "" {
		c.Redirect(http.StatusFound, store.CallbackRedirect(errors.New(msg)))
		return
	}
	if code := c.Query("code"); code != "" && s.exchanger != nil {
		if _, err := s.exchanger.ExchangeCode(ctx, code); err != nil {
			s.logger.Warn("oauth code exchange failed", "err", err)
			c.Redirect(http.StatusFound, store.CallbackRedirect(err))
			return
		}
	}
	if err := s.store.CompleteOAuthSignIn(ctx); err != nil {
		c.Redirect(http.StatusFound, store.CallbackRedirect(err))
		return
	}
	c.Redirect(http.StatusFound, DashboardPath)
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.store.SignOut(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- ui ---

func (s *Server) toggleSidebar(c *gin.Context) {
	s.store.Menu().ToggleSidebar()
	c.JSON(http.StatusOK, gin.H{"sidebarOpen": s.store.Menu().SidebarOpen()})
}

// --- companies ---

func (s *Server) refresh(c *gin.Context) {
	if err := s.store.RefetchAll(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.store.State())
}

type companyRef struct {
	ID string `json:"id"`
}

func (s *Server) setCurrentCompany(c *gin.Context) {
	var req companyRef
	if !bind(c, &req) {
		return
	}
	if err := s.store.SetCurrentCompany(c.Request.Context(), req.ID); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currentCompany": s.store.Tenant().Current()})
}

func (s *Server) switchCompany(c *gin.Context) {
	var req companyRef
	if !bind(c, &req) {
		return
	}
	res, err := s.store.SwitchCompany(c.Request.Context(), req.ID)
	body := gin.H{"phase": res.Phase.String(), "requested": res.Requested, "currentCompany": res.Current}
	if err != nil {
		body["error"] = err.Error()
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, ats.ErrNotAuthorized):
			status = http.StatusForbidden
		case errors.Is(err, ats.ErrNotAuthenticated):
			status = http.StatusUnauthorized
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) createCompany(c *gin.Context) {
	var in ats.CompanyInput
	if !bind(c, &in) {
		return
	}
	co, err := s.store.CreateCompany(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, co)
}

func (s *Server) updateCompany(c *gin.Context) {
	var in ats.CompanyInput
	if !bind(c, &in) {
		return
	}
	co, err := s.store.UpdateCompany(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, co)
}

func (s *Server) deleteCompany(c *gin.Context) {
	if err := s.store.DeleteCompany(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- jobs ---

func (s *Server) createJob(c *gin.Context) {
	var in ats.JobInput
	if !bind(c, &in) {
		return
	}
	j, err := s.store.CreateJob(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (s *Server) updateJob(c *gin.Context) {
	var in ats.JobInput
	if !bind(c, &in) {
		return
	}
	j, err := s.store.UpdateJob(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) deleteJob(c *gin.Context) {
	if err := s.store.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
