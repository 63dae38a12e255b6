package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"telegate/internal/entities"
	"telegate/internal/usecases"
)

const defaultHistoryLimit = 50

type Handler struct {
	auth    *usecases.AuthUsecase
	gateway *usecases.GatewayUsecase
	log     zerolog.Logger
}

func NewHandler(auth *usecases.AuthUsecase, gateway *usecases.GatewayUsecase, log zerolog.Logger) *Handler {
	return &Handler{
		auth:    auth,
		gateway: gateway,
		log:     log.With().Str("component", "http").Logger(),
	}
}

func SetupRoutes(r *gin.Engine, auth *usecases.AuthUsecase, gateway *usecases.GatewayUsecase, middleware *Middleware, log zerolog.Logger) {
	h := NewHandler(auth, gateway, log)

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(1 << 20)) // 1MB max request size
	r.Use(middleware.CORSMiddleware())

	// Public routes
	r.GET("/health", h.Health)
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	// Account routes, bearer-token only
	api := r.Group("/")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(5, 10))
	{
		api.GET("/me", h.Me)
		api.POST("/start_login", h.StartLogin)
		api.POST("/complete_login", h.CompleteLogin)
		api.GET("/list_accounts", h.ListAccounts)
		api.POST("/send_message", h.SendMessage)
		api.GET("/get_chats", h.GetChats)
		api.GET("/get_messages", h.GetMessages)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidUsername(req.Username) || len(req.Password) < MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username or password (min 6 chars)"})
		return
	}

	user, token, err := h.auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if errors.Is(err, usecases.ErrDuplicateUser) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username or email already registered"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("register failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

// Login takes an OAuth2-style password form whose username field carries
// the email.
func (h *Handler) Login(c *gin.Context) {
	email := c.PostForm("username")
	password := c.PostForm("password")

	user, token, err := h.auth.Login(c.Request.Context(), email, password)
	if errors.Is(err, usecases.ErrBadCredentials) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Incorrect email or password"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.auth.User(c.Request.Context(), c.GetString("user_id"))
	if err != nil || user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) StartLogin(c *gin.Context) {
	var req struct {
		Phone     string `json:"phone" binding:"required"`
		ForceCode bool   `json:"force_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidPhone(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		return
	}

	res, err := h.gateway.StartLogin(c.Request.Context(), c.GetString("user_id"), req.Phone)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status, "message": res.Message})
}

func (h *Handler) CompleteLogin(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.gateway.CompleteLogin(c.Request.Context(), c.GetString("user_id"), req.Phone, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Status, "message": res.Message})
}

func (h *Handler) ListAccounts(c *gin.Context) {
	phones, err := h.gateway.ListAccounts(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if phones == nil {
		phones = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"accounts": phones})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		Phone     string `json:"phone" binding:"required"`
		Recipient string `json:"recipient" binding:"required"`
		Message   string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.gateway.SendMessage(c.Request.Context(), c.GetString("user_id"), req.Phone, req.Recipient, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message sent successfully"})
}

func (h *Handler) GetChats(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	chats, err := h.gateway.GetChats(c.Request.Context(), c.GetString("user_id"), phone)
	if err != nil {
		h.fail(c, err)
		return
	}
	if chats == nil {
		chats = []entities.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) GetMessages(c *gin.Context) {
	phone := c.Query("phone")
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if phone == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := h.gateway.GetMessages(c.Request.Context(), c.GetString("user_id"), phone, chatID, limit)
	if err != nil {
		h.failHistory(c, err)
		return
	}
	if messages == nil {
		messages = []entities.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// fail maps taxonomy errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entities.ErrSessionNotFound),
		errors.Is(err, entities.ErrAccountNotConnected):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "You don't have access to this account"})
	case errors.Is(err, entities.ErrAuthRevoked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session is no longer valid. Please log in again."})
	case errors.Is(err, entities.ErrVerificationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// failHistory is fail with the get_messages quirk: plain remote failures
// surface as 400, matching the endpoint's contract.
func (h *Handler) failHistory(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entities.ErrSessionNotFound),
		errors.Is(err, entities.ErrAccountNotConnected),
		errors.Is(err, entities.ErrAccessDenied),
		errors.Is(err, entities.ErrAuthRevoked),
		errors.Is(err, entities.ErrUnsupported):
		h.fail(c, err)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
