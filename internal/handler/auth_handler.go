// Package handler exposes the auth flows over HTTP with a uniform
// response envelope.
package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shop-auth/internal/otp"
	"shop-auth/internal/repository/scylla"
	"shop-auth/internal/service"
	"shop-auth/internal/token"
	"shop-auth/internal/util"
)

// Error codes carried in the response envelope.
const (
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodeRateLimited              = "RATE_LIMITED"
	CodeExpired                  = "CODE_EXPIRED"
	CodeTooManyAttempts          = "TOO_MANY_ATTEMPTS"
	CodeInvalidCode              = "INVALID_CODE"
	CodeRegistrationDataRequired = "REGISTRATION_DATA_REQUIRED"
	CodeInvalidCredentials       = "INVALID_CREDENTIALS"
	CodeInvalidToken             = "INVALID_TOKEN"
	CodeUserNotFound             = "USER_NOT_FOUND"
	CodeInternalError            = "INTERNAL_ERROR"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func successResponse(data interface{}) Response {
	return Response{Success: true, Data: data}
}

func errorResponse(code, message string) Response {
	return Response{Success: false, Error: &ResponseError{Code: code, Message: message}}
}

// AuthHandler handles the HTTP surface of the auth flows.
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRoutes mounts the auth endpoints.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/send-code", h.SendCode)
		r.Post("/verify-code", h.VerifyCode)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		util.Error("failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		util.Error("request failed", util.ErrorField(err))
		message = "internal error"
	}
	h.respondWithJSON(w, status, errorResponse(code, message))
}

func mapError(err error) (int, string, string) {
	var limitErr *otp.LimitError
	if errors.As(err, &limitErr) {
		return http.StatusTooManyRequests, CodeRateLimited, limitErr.Reason
	}

	switch {
	case errors.Is(err, otp.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded"
	case errors.Is(err, otp.ErrCodeExpired):
		return http.StatusBadRequest, CodeExpired, "verification code expired or not found"
	case errors.Is(err, otp.ErrTooManyAttempts):
		return http.StatusBadRequest, CodeTooManyAttempts, "too many verification attempts"
	case errors.Is(err, otp.ErrInvalidCode):
		return http.StatusBadRequest, CodeInvalidCode, "invalid verification code"
	case errors.Is(err, service.ErrRegistrationDataRequired):
		return http.StatusBadRequest, CodeRegistrationDataRequired, "name is required to register"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, "invalid phone or password"
	case errors.Is(err, token.ErrInvalidToken):
		return http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token"
	case errors.Is(err, scylla.ErrUserNotFound):
		return http.StatusNotFound, CodeUserNotFound, "no account for this phone number"
	default:
		return http.StatusInternalServerError, CodeInternalError, err.Error()
	}
}

func (h *AuthHandler) badRequest(w http.ResponseWriter, message string) {
	h.respondWithJSON(w, http.StatusBadRequest, errorResponse(CodeInvalidRequest, message))
}

// decodeBody parses the JSON body into dst. The caller reports failures.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// normalizedPhone validates the phone at the boundary so everything
// behind the handler only ever sees canonical +NNNN numbers.
func normalizedPhone(raw string) (string, bool) {
	phone := util.NormalizePhone(raw)
	if !util.ValidPhone(phone) {
		return "", false
	}
	return phone, true
}

type sendCodeRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password,omitempty"`
}

// SendCode starts registration or login by texting a code.
// @Router /auth/send-code [post]
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	phone, ok := normalizedPhone(req.Phone)
	if !ok {
		h.badRequest(w, "invalid phone number")
		return
	}

	if err := h.authService.SendCode(r.Context(), phone, req.Password, clientIP(r)); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"phone": util.MaskPhone(phone),
	}))
}

type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
	Name  string `json:"name,omitempty"`
}

// VerifyCode consumes a code and answers with a session, or with
// REGISTRATION_DATA_REQUIRED when the phone is new and no name came.
// @Router /auth/verify-code [post]
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	phone, ok := normalizedPhone(req.Phone)
	if !ok {
		h.badRequest(w, "invalid phone number")
		return
	}
	if req.Code == "" {
		h.badRequest(w, "code is required")
		return
	}

	result, err := h.authService.VerifyCode(r.Context(), phone, req.Code, req.Name, clientIP(r))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	status := http.StatusOK
	if result.IsNewUser {
		status = http.StatusCreated
	}
	h.respondWithJSON(w, status, successResponse(result))
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login authenticates by phone and password.
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	phone, ok := normalizedPhone(req.Phone)
	if !ok {
		h.badRequest(w, "invalid phone number")
		return
	}
	if req.Password == "" {
		h.badRequest(w, "password is required")
		return
	}

	result, err := h.authService.Login(r.Context(), phone, req.Password, clientIP(r))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token into a new session pair.
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		h.badRequest(w, "refresh_token is required")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(pair))
}

// Logout revokes a refresh token. Safe to repeat.
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		h.badRequest(w, "refresh_token is required")
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil))
}

type forgotPasswordRequest struct {
	Phone string `json:"phone"`
}

// ForgotPassword texts a password reset code to an existing account.
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	phone, ok := normalizedPhone(req.Phone)
	if !ok {
		h.badRequest(w, "invalid phone number")
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), phone, clientIP(r)); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"phone": util.MaskPhone(phone),
	}))
}

type resetPasswordRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// ResetPassword consumes a reset code and sets a new password.
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	phone, ok := normalizedPhone(req.Phone)
	if !ok {
		h.badRequest(w, "invalid phone number")
		return
	}
	if req.Code == "" || req.NewPassword == "" {
		h.badRequest(w, "code and new_password are required")
		return
	}

	if err := h.authService.ResetPassword(r.Context(), phone, req.Code, req.NewPassword); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil))
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
