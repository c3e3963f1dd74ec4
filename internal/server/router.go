package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/passagelab/passage/internal/identity"
	"github.com/passagelab/passage/internal/login"
	"github.com/passagelab/passage/internal/provider"
	"go.uber.org/zap"
)

const accountIDContextKey = "passage_account_id"

var (
	errMissingLoginService     = errors.New("login service dependency required")
	errMissingIdentityService  = errors.New("identity service dependency required")
	errMissingProviderClient   = errors.New("provider client dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// LoginFlow drives the two inbound halves of the login protocol.
type LoginFlow interface {
	BeginAuth(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, code, state string) (login.Session, error)
}

// LinkSource resolves the provider link owned by an account.
type LinkSource interface {
	LinkForAccount(ctx context.Context, accountID string) (identity.Link, error)
}

// ProfileFetcher retrieves the live provider profile for a stored access token.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, accessToken string) (provider.Profile, error)
}

// SessionValidator validates bearer session tokens and returns the account id.
type SessionValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	LoginService     LoginFlow
	IdentityService  LinkSource
	ProviderClient   ProfileFetcher
	SessionValidator SessionValidator
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.LoginService == nil {
		return nil, errMissingLoginService
	}
	if deps.IdentityService == nil {
		return nil, errMissingIdentityService
	}
	if deps.ProviderClient == nil {
		return nil, errMissingProviderClient
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		flow:     deps.LoginService,
		links:    deps.IdentityService,
		provider: deps.ProviderClient,
		sessions: deps.SessionValidator,
		logger:   logger,
	}

	router.GET("/auth/login", handler.handleBeginAuth)
	router.GET("/auth/callback", handler.handleCallback)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/profile", handler.handleProfile)

	return router, nil
}

type httpHandler struct {
	flow     LoginFlow
	links    LinkSource
	provider ProfileFetcher
	sessions SessionValidator
	logger   *zap.Logger
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type profileResponsePayload struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

func (h *httpHandler) handleBeginAuth(c *gin.Context) {
	redirectURL, err := h.flow.BeginAuth(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to issue auth request", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	session, err := h.flow.HandleCallback(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		status, kind := classifyCallbackError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("callback failed", zap.String("kind", kind), zap.Error(err))
		} else {
			h.logger.Warn("callback rejected", zap.String("kind", kind), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": kind, "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: session.Token,
		ExpiresIn:   session.ExpiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	accountID := c.GetString(accountIDContextKey)
	if accountID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	link, err := h.links.LinkForAccount(c.Request.Context(), accountID)
	if errors.Is(err, identity.ErrNotLinked) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_linked"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load provider link", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	profile, err := h.provider.FetchProfile(c.Request.Context(), link.AccessToken)
	if err != nil {
		h.logger.Warn("live profile fetch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "profile_fetch_failed"})
		return
	}

	c.JSON(http.StatusOK, profileResponsePayload{
		ExternalID: profile.ExternalID,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	accountID, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("session token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(accountIDContextKey, accountID)
	c.Next()
}

func classifyCallbackError(err error) (int, string) {
	switch {
	case errors.Is(err, login.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, login.ErrInvalidOrExpiredState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, login.ErrTokenExchangeFailed):
		return http.StatusBadGateway, "token_exchange_failed"
	case errors.Is(err, login.ErrProfileFetchFailed):
		return http.StatusBadGateway, "profile_fetch_failed"
	case errors.Is(err, identity.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "login_failed"
	}
}
