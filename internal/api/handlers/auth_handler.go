package handlers

import (
	"net/http"

	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles email codes, signup and the token-protected profile
type AuthHandler struct {
	authService *services.AuthService
	tracer      tracing.Tracer
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, tracer tracing.Tracer) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tracer:      tracer,
	}
}

// SendOTPRequest is the body of POST /auth/send-otp
type SendOTPRequest struct {
	Email string `json:"email"`
}

// VerifyOTPRequest is the body of POST /auth/verify-otp
type VerifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// SignupRequest is the body of POST /signup
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSendOTP mails a fresh six digit code
func (h *AuthHandler) HandleSendOTP(c *gin.Context) {
	var req SendOTPRequest
	if !bindJSON(c, &req, "Email required") {
		return
	}

	if err := h.authService.SendOTP(requestContext(c), req.Email); err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true, "expiresInSec": int(h.authService.OTPTTL().Seconds())})
}

// HandleVerifyOTP checks a code
func (h *AuthHandler) HandleVerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if !bindJSON(c, &req, "Email and code required") {
		return
	}

	if err := h.authService.VerifyOTP(requestContext(c), req.Email, req.Code); err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// HandleSignup registers an account and returns its token
func (h *AuthHandler) HandleSignup(c *gin.Context) {
	var req SignupRequest
	if !bindJSON(c, &req, "Missing required fields") {
		return
	}

	result, err := h.authService.Signup(requestContext(c), services.SignupRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"token":   result.Token,
		"user": gin.H{
			"id":    result.User.ID,
			"name":  result.User.Name,
			"email": result.User.Email,
		},
	})
}

// HandleProfile echoes the verified token claims
func (h *AuthHandler) HandleProfile(c *gin.Context) {
	claims, ok := c.Get(ClaimsKey)
	if !ok {
		writeMessage(c, http.StatusUnauthorized, "No token provided")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": claims})
}

// RegisterRoutes registers the handler's routes. requireToken guards the profile.
func (h *AuthHandler) RegisterRoutes(router gin.IRouter, requireToken gin.HandlerFunc) {
	auth := router.Group("/auth")
	{
		auth.POST("/send-otp", h.HandleSendOTP)
		auth.POST("/verify-otp", h.HandleVerifyOTP)
	}
	router.POST("/signup", h.HandleSignup)
	router.GET("/profile", requireToken, h.HandleProfile)
}
