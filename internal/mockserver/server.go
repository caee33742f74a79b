// Package mockserver runs an in-process fake of the Temeva licensing API for
// tests: login, default organization, platform version and any extra routes a
// test registers.
package mockserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config describes the fake service's fixture data.
type Config struct {
	Username       string
	Password       string
	OrganizationID string
	BuildNumber    string

	// Token is handed out verbatim when set. Otherwise an HS256 JWT is issued
	// when SigningKey is set, and a random UUID when it is not.
	Token      string
	SigningKey []byte
	TokenTTL   time.Duration

	// Non-zero statuses force the matching endpoint to fail.
	DefaultOrgStatus int
	TokenStatus      int
	VersionStatus    int
}

// RecordedRequest is one request as the server saw it.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Server is a running fake. Close it when done.
type Server struct {
	*httptest.Server

	cfg    Config
	engine *gin.Engine
	api    *gin.RouterGroup

	mu       sync.Mutex
	issued   string
	requests []RecordedRequest
}

// New starts a fake licensing service. Zero-valued fixture fields get
// defaults.
func New(cfg Config) *Server {
	if cfg.Username == "" {
		cfg.Username = "user@example.com"
	}
	if cfg.Password == "" {
		cfg.Password = "secret"
	}
	if cfg.OrganizationID == "" {
		cfg.OrganizationID = "org-default"
	}
	if cfg.BuildNumber == "" {
		cfg.BuildNumber = "4.2.0"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}

	gin.SetMode(gin.TestMode)
	s := &Server{cfg: cfg, engine: gin.New()}
	s.engine.Use(s.record)

	s.engine.GET("/api/iam/organizations/default", s.defaultOrganization)
	s.engine.POST("/api/iam/oauth2/token", s.token)

	s.api = s.engine.Group("/api", s.requireBearer)
	s.api.GET("/lic/version", s.version)

	s.Server = httptest.NewServer(s.engine)
	return s
}

// Handle registers an extra authenticated route under /api. relativePath
// excludes the /api prefix.
func (s *Server) Handle(method, relativePath string, h gin.HandlerFunc) {
	s.api.Handle(method, relativePath, h)
}

// IssuedToken returns the last access token handed out.
func (s *Server) IssuedToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

// Requests returns every request received so far, oldest first.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request, or false when none arrived.
func (s *Server) LastRequest() (RecordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return RecordedRequest{}, false
	}
	return s.requests[len(s.requests)-1], true
}

func (s *Server) record(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header.Clone(),
		Body:     body,
	})
	s.mu.Unlock()
	c.Next()
}

func (s *Server) defaultOrganization(c *gin.Context) {
	if s.cfg.DefaultOrgStatus != 0 {
		c.JSON(s.cfg.DefaultOrgStatus, gin.H{"error": "organization lookup unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": s.cfg.OrganizationID})
}

type tokenRequest struct {
	GrantType string `json:"grant_type" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Scope     string `json:"scope"`
}

func (s *Server) token(c *gin.Context) {
	if s.cfg.TokenStatus != 0 {
		c.JSON(s.cfg.TokenStatus, gin.H{"error": "token endpoint unavailable"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	if req.GrantType != "password" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	if req.Username != s.cfg.Username || req.Password != s.cfg.Password || req.Scope != s.cfg.OrganizationID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant"})
		return
	}

	token, err := s.issue(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// issue mints the next access token.
func (s *Server) issue(subject string) (string, error) {
	token := s.cfg.Token
	if token == "" && len(s.cfg.SigningKey) > 0 {
		now := time.Now().UTC()
		claims := jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.cfg.OrganizationID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			ID:        uuid.NewString(),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
		if err != nil {
			return "", err
		}
		token = signed
	}
	if token == "" {
		token = uuid.NewString()
	}

	s.mu.Lock()
	s.issued = token
	s.mu.Unlock()
	return token, nil
}

func (s *Server) requireBearer(c *gin.Context) {
	token := s.IssuedToken()
	if token == "" || c.GetHeader("Authorization") != "Bearer "+token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) version(c *gin.Context) {
	if s.cfg.VersionStatus != 0 {
		c.JSON(s.cfg.VersionStatus, gin.H{"error": "version unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"build_number": s.cfg.BuildNumber})
}
