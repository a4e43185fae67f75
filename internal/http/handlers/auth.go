package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaychat/server/internal/apperror"
	"github.com/relaychat/server/internal/auth"
	"github.com/relaychat/server/internal/logger"
	"github.com/relaychat/server/internal/middleware"
	"github.com/relaychat/server/internal/model"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	exposeCode  bool
	log         *zap.Logger
}

// NewAuthHandler creates a new auth handler. With exposeCode set the OTP is
// returned in the response body, standing in for an SMS gateway.
func NewAuthHandler(authService *auth.AuthService, exposeCode bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, exposeCode: exposeCode, log: log}
}

type signupRequest struct {
	Mobile   string  `json:"mobile" validate:"required,mobile"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Email    *string `json:"email" validate:"omitempty,email"`
}

type sendOTPRequest struct {
	Mobile  string `json:"mobile" validate:"required,mobile"`
	Purpose string `json:"purpose" validate:"required,oneof=signup login forgot"`
}

type verifyOTPRequest struct {
	Mobile  string `json:"mobile" validate:"required,mobile"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
	Purpose string `json:"purpose" validate:"required,oneof=signup login forgot"`
}

type forgotPasswordRequest struct {
	Mobile string `json:"mobile" validate:"required,mobile"`
}

type resetPasswordRequest struct {
	Mobile      string `json:"mobile" validate:"required,mobile"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userResponse struct {
	ID         string    `json:"id"`
	Mobile     string    `json:"mobile"`
	Email      *string   `json:"email,omitempty"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Mobile:     u.Mobile,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func toTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type sendOTPResponse struct {
	Message   string    `json:"message"`
	UserKind  string    `json:"user_kind"`
	ExpiresAt time.Time `json:"expires_at"`
	OTP       string    `json:"otp,omitempty"`
}

type sessionResponse struct {
	tokenResponse
	User userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) otpSent(w http.ResponseWriter, res auth.SendOTPResult) {
	resp := sendOTPResponse{
		Message:   "otp_sent",
		UserKind:  string(res.Kind),
		ExpiresAt: res.ExpiresAt,
	}
	if h.exposeCode {
		resp.OTP = res.Code
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleSignup handles POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	user, err := h.authService.Signup(r.Context(), strings.TrimSpace(req.Mobile), req.Password, req.Email)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleSendOTP handles POST /auth/send-otp
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	res, err := h.authService.SendOTP(r.Context(), req.Mobile, model.Purpose(req.Purpose))
	if err != nil {
		h.log.Info("send otp failed", logger.Mobile(req.Mobile), zap.Error(err))
		respondErr(w, h.log, err)
		return
	}
	h.otpSent(w, res)
}

// HandleForgotPassword handles POST /auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	res, err := h.authService.ForgotPassword(r.Context(), req.Mobile)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	h.otpSent(w, res)
}

// HandleVerifyOTP handles POST /auth/verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	session, err := h.authService.VerifyOTP(r.Context(), req.Mobile, req.Code, model.Purpose(req.Purpose))
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		tokenResponse: toTokenResponse(session.Tokens),
		User:          toUserResponse(session.User),
	})
}

// HandleResetPassword handles POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	if err := h.authService.ResetPassword(r.Context(), req.Mobile, req.Code, req.NewPassword); err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "password reset"})
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	pair, err := h.authService.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toTokenResponse(pair))
}

// HandleChangePassword handles POST /auth/change-password (protected)
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondErr(w, h.log, err)
		return
	}
	if err := h.authService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "password changed"})
}

// HandleMe handles GET /auth/me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondErr(w, h.log, apperror.ErrUnauthorized)
		return
	}
	user, err := h.authService.Me(r.Context(), userID)
	if err != nil {
		respondErr(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}
