package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/auth"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/lifecycle"
	"github.com/mark77234/Tomo/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "tomo_external_id"
	defaultRequestTimeout = 5 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingSessions       = errors.New("session service dependency required")
	errMissingDomainServices = errors.New("domain service dependencies required")
)

// AccessTokenValidator resolves a bearer access token to its claims.
type AccessTokenValidator interface {
	ValidateAccessToken(token string) (auth.SessionClaims, error)
}

// SessionService exchanges credentials for token pairs.
type SessionService interface {
	Login(ctx context.Context, idToken string) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	Logout(ctx context.Context, externalID string) error
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Tokens         AccessTokenValidator
	Sessions       SessionService
	Users          *users.Service
	Friends        *friends.Service
	Groups         *groups.Service
	Appointments   *appointments.Service
	Lifecycle      *lifecycle.Coordinator
	Logger         *zap.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin engine serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil || deps.Friends == nil || deps.Groups == nil || deps.Appointments == nil || deps.Lifecycle == nil {
		return nil, errMissingDomainServices
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	handler := &httpHandler{
		tokens:       deps.Tokens,
		sessions:     deps.Sessions,
		users:        deps.Users,
		friends:      deps.Friends,
		groups:       deps.Groups,
		appointments: deps.Appointments,
		lifecycle:    deps.Lifecycle,
		logger:       logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(requestLogger(logger))
	router.Use(requestDeadline(timeout))

	router.GET("/healthz", handler.handleHealth)
	router.POST("/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/refresh", handler.handleRefresh)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.DELETE("/logout", handler.handleLogout)
	protected.DELETE("/users", handler.handleDeleteUser)
	protected.PATCH("/users/me", handler.handleUpdateUsername)

	protected.POST("/friends", handler.handleAddFriend)
	protected.GET("/friends", handler.handleUserInfo)
	protected.DELETE("/friends", handler.handleRemoveFriend)
	protected.GET("/friends/detail", handler.handleFriendDetail)
	protected.GET("/friends/list", handler.handleListFriends)

	protected.POST("/groups", handler.handleCreateGroup)
	protected.GET("/groups/list", handler.handleListGroups)
	protected.GET("/groups/appointments", handler.handleListGroupAppointments)
	protected.GET("/groups/:id", handler.handleGroupSummary)
	protected.GET("/groups/:id/detail", handler.handleGroupDetail)
	protected.DELETE("/groups/:id", handler.handleDeleteGroup)

	protected.POST("/appointments", handler.handleCreateAppointment)
	protected.GET("/appointments", handler.handleGetAppointment)

	return router, nil
}

type httpHandler struct {
	tokens       AccessTokenValidator
	sessions     SessionService
	users        *users.Service
	friends      *friends.Service
	groups       *groups.Service
	appointments *appointments.Service
	lifecycle    *lifecycle.Coordinator
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: "ok"})
}
