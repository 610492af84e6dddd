package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coursework/internal/auth"
	"github.com/MarcoPoloResearchLab/coursework/internal/projects"
	"github.com/MarcoPoloResearchLab/coursework/internal/uploads"
	"github.com/MarcoPoloResearchLab/coursework/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userContextKey    = "coursework_user"
	sessionContextKey = "coursework_session"

	defaultCookieName = "sid"
)

var (
	errMissingAuthService    = errors.New("auth service dependency required")
	errMissingUserRegistrar  = errors.New("user registrar dependency required")
	errMissingProjectService = errors.New("project service dependency required")
	errMissingUploadStore    = errors.New("upload store dependency required")
)

// AuthService issues captchas and manages login sessions.
type AuthService interface {
	IssueCaptcha() (auth.Challenge, error)
	Login(username, password, captchaToken, captchaCode string) (string, users.User, error)
	Resolve(sessionID string) (users.User, error)
	Logout(sessionID string)
}

// UserRegistrar creates accounts.
type UserRegistrar interface {
	Register(registration users.Registration) error
}

// ProjectService exposes the role-gated project operations.
type ProjectService interface {
	CreateProject(actor users.User, input projects.NewProject) (projects.Project, error)
	GetProject(actor users.User, projectID int) (projects.Project, error)
	RecordView(actor users.User, projectID int) error
	RecordSubmission(actor users.User, projectID int, storedFile string) error
	SetCompletion(actor users.User, projectID int, rollNo string, completed bool) error
	ListForUser(actor users.User) ([]projects.Summary, error)
	ListStudents(actor users.User, projectID int, sortKey projects.SortKey) ([]projects.SubmissionState, error)
}

// UploadStore places uploaded files.
type UploadStore interface {
	Reserve(kind uploads.Kind, originalName string) (uploads.Reservation, error)
	Discard(reservation uploads.Reservation)
	Root() string
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Auth           AuthService
	Users          UserRegistrar
	Projects       ProjectService
	Uploads        UploadStore
	CookieName     string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the JSON API and stored uploads.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthService
	}
	if deps.Users == nil {
		return nil, errMissingUserRegistrar
	}
	if deps.Projects == nil {
		return nil, errMissingProjectService
	}
	if deps.Uploads == nil {
		return nil, errMissingUploadStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		auth:       deps.Auth,
		users:      deps.Users,
		projects:   deps.Projects,
		uploads:    deps.Uploads,
		cookieName: cookieName,
		logger:     logger,
	}

	router.Static("/"+uploads.PublicPrefix, deps.Uploads.Root())

	api := router.Group("/api")
	api.GET("/captcha", handler.handleCaptcha)
	api.POST("/register", handler.handleRegister)
	api.POST("/login", handler.handleLogin)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/logout", handler.handleLogout)
	protected.POST("/projects", handler.handleCreateProject)
	protected.GET("/projects", handler.handleListProjects)
	protected.GET("/projects/:id", handler.handleGetProject)
	protected.POST("/projects/:id/view", handler.handleRecordView)
	protected.POST("/projects/:id/submit", handler.handleRecordSubmission)
	protected.GET("/projects/:id/students", handler.handleListStudents)
	protected.POST("/projects/:id/students/:roll/complete", handler.handleSetCompletion)

	return router, nil
}

type httpHandler struct {
	auth       AuthService
	users      UserRegistrar
	projects   ProjectService
	uploads    UploadStore
	cookieName string
	logger     *zap.Logger
}

// corsConfig echoes the request origin for "*" so credentialed requests keep working.
func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			origins = nil
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	sessionID, err := c.Cookie(h.cookieName)
	if err != nil || strings.TrimSpace(sessionID) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.auth.Resolve(sessionID)
	if err != nil {
		h.logger.Debug("session rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, sessionID)
	c.Set(userContextKey, user)
	c.Next()
}

func currentUser(c *gin.Context) users.User {
	value, _ := c.Get(userContextKey)
	user, _ := value.(users.User)
	return user
}
