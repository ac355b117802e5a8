package handlers

import (
	"net/http"
	"time"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/logger"
	"ipsentry/internal/web"
	"ipsentry/internal/webconfig"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxFailedAttempts = 5
	lockDuration      = 15 * time.Minute
)

type AuthHandler struct {
	userRepo *database.UserRepo
	log      *eventlog.Log
	cfg      *webconfig.Config
}

func NewAuthHandler(cfg *webconfig.Config, log *eventlog.Log) *AuthHandler {
	return &AuthHandler{
		userRepo: database.NewUserRepo(),
		log:      log,
		cfg:      cfg,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt string        `json:"expires_at"`
	User      loginUserInfo `json:"user"`
}

type loginUserInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	if req.Username == "" || req.Password == "" {
		web.FailErr(w, r, web.ErrEmptyCredentials)
		return
	}

	rctx := web.EventContext(r)

	user, err := h.userRepo.FindByLogin(req.Username)
	if err != nil {
		h.log.Append(rctx, eventlog.AppendInput{
			Activity: constants.ActivityLoginFailed,
			Login:    req.Username,
			URL:      r.URL.Path,
		})
		logger.Auth.Warn().Str("login", req.Username).Str("ip", rctx.RemoteIP).Msg("login failed: user not found")
		web.FailErr(w, r, web.ErrInvalidPassword)
		return
	}

	// Check lock
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now().UTC()) {
		h.log.Append(rctx, eventlog.AppendInput{
			Activity: constants.ActivityLoginFailed,
			Login:    user.Login,
			UserID:   user.ID,
			Status:   constants.StatusLockedOut,
			URL:      r.URL.Path,
		})
		logger.Auth.Warn().Str("login", req.Username).Str("ip", rctx.RemoteIP).Msg("login failed: account locked")
		web.FailErr(w, r, web.ErrAccountLocked)
		return
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.userRepo.IncrementFailedAttempts(user.ID)
		h.log.Append(rctx, eventlog.AppendInput{
			Activity: constants.ActivityLoginFailed,
			Login:    user.Login,
			UserID:   user.ID,
			URL:      r.URL.Path,
		})
		if user.FailedAttempts+1 >= maxFailedAttempts {
			lockUntil := time.Now().UTC().Add(lockDuration)
			h.userRepo.LockUntil(user.ID, lockUntil)
			logger.Auth.Warn().Str("login", req.Username).Str("ip", rctx.RemoteIP).Msg("account locked")
		}
		logger.Auth.Warn().Str("login", req.Username).Str("ip", rctx.RemoteIP).Msg("login failed: wrong password")
		web.FailErr(w, r, web.ErrInvalidPassword)
		return
	}

	// Reset failed attempts
	h.userRepo.ResetFailedAttempts(user.ID)

	// Generate JWT
	token, expiresAt, err := web.GenerateJWT(user.ID, user.Login, user.Role, h.cfg.Auth.JWTSecret, h.cfg.JWTExpireDuration())
	if err != nil {
		logger.Auth.Error().Err(err).Msg("JWT generation failed")
		web.FailErr(w, r, web.ErrLoginFailed)
		return
	}

	h.log.Append(rctx, eventlog.AppendInput{
		Activity: constants.ActivityLogin,
		Login:    user.Login,
		UserID:   user.ID,
		URL:      r.URL.Path,
	})

	logger.Auth.Info().Str("login", user.Login).Str("ip", rctx.RemoteIP).Msg("user logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     "ips_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	web.OK(w, r, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User: loginUserInfo{
			ID:       user.ID,
			Username: user.Login,
			Role:     user.Role,
		},
	})
}

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	// Only allow setup if no users exist
	count, err := h.userRepo.Count()
	if err != nil {
		web.FailErr(w, r, web.ErrDBQuery)
		return
	}
	if count > 0 {
		web.FailErr(w, r, web.ErrSetupDone)
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	if req.Username == "" || len(req.Password) < 6 {
		web.FailErr(w, r, web.ErrEmptyCredentials)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		web.FailErr(w, r, web.ErrInternalError)
		return
	}

	user := &database.User{
		Login:        req.Username,
		PasswordHash: string(hash),
		Role:         constants.RoleAdmin,
	}
	if err := h.userRepo.Create(user); err != nil {
		web.FailErr(w, r, web.ErrUserCreateFail)
		return
	}

	h.log.Append(web.EventContext(r), eventlog.AppendInput{
		Activity: constants.ActivityUserCreated,
		Login:    user.Login,
		UserID:   user.ID,
	})

	logger.Auth.Info().Str("login", user.Login).Msg("admin account created")
	web.OK(w, r, map[string]string{"message": "ok"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	if len(req.NewPassword) < 6 {
		web.FailErr(w, r, web.ErrPasswordTooShort)
		return
	}

	userID := web.GetUserID(r)
	user, err := h.userRepo.FindByID(userID)
	if err != nil {
		web.FailErr(w, r, web.ErrUserNotFound)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		web.FailErr(w, r, web.ErrOldPasswordWrong)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		web.FailErr(w, r, web.ErrInternalError)
		return
	}

	h.userRepo.UpdatePassword(user.ID, string(hash))

	h.log.Append(web.EventContext(r), eventlog.AppendInput{
		Activity: constants.ActivityPasswordReset,
		Login:    user.Login,
		UserID:   user.ID,
	})

	logger.Auth.Info().Str("login", user.Login).Msg("password changed")
	web.OK(w, r, map[string]string{"message": "ok"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := web.GetUserID(r)
	user, err := h.userRepo.FindByID(userID)
	if err != nil {
		web.FailErr(w, r, web.ErrUserNotFound)
		return
	}
	web.OK(w, r, map[string]interface{}{
		"id":       user.ID,
		"username": user.Login,
		"role":     user.Role,
	})
}

func (h *AuthHandler) NeedsSetup(w http.ResponseWriter, r *http.Request) {
	count, err := h.userRepo.Count()
	if err != nil {
		web.FailErr(w, r, web.ErrDBQuery)
		return
	}
	web.OK(w, r, map[string]interface{}{
		"needs_setup": count == 0,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.log.Append(web.EventContext(r), eventlog.AppendInput{
		Activity: constants.ActivityLogout,
		Login:    web.GetUsername(r),
		UserID:   web.GetUserID(r),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "ips_token",
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-1 * time.Hour),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	web.OK(w, r, map[string]string{"message": "logged out"})
}
