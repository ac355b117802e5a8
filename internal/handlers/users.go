package handlers

import (
	"net/http"
	"strconv"
	"time"

	"ipsentry/internal/alert"
	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/logger"
	"ipsentry/internal/web"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"
)

type UserHandler struct {
	users *database.UserRepo
	subs  *alert.Store
	log   *eventlog.Log
}

func NewUserHandler(subs *alert.Store, log *eventlog.Log) *UserHandler {
	return &UserHandler{
		users: database.NewUserRepo(),
		subs:  subs,
		log:   log,
	}
}

type userItem struct {
	ID          uint   `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Locked      bool   `json:"locked"`
	CreatedAt   string `json:"created_at"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List()
	if err != nil {
		web.FailErr(w, r, web.ErrUserQueryFail)
		return
	}
	now := time.Now().UTC()
	items := make([]userItem, 0, len(users))
	for _, u := range users {
		items = append(items, userItem{
			ID:          u.ID,
			Login:       u.Login,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			Locked:      u.LockedUntil != nil && u.LockedUntil.After(now),
			CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	web.OK(w, r, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

type userCreateRequest struct {
	Login       string `json:"login"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.FailErr(w, r, web.ErrInvalidBody)
		return
	}
	if req.Login == "" {
		web.FailErr(w, r, web.ErrEmptyCredentials)
		return
	}
	if len(req.Password) < 6 {
		web.FailErr(w, r, web.ErrPasswordTooShort)
		return
	}
	if req.Role != constants.RoleAdmin && req.Role != constants.RoleReadonly {
		req.Role = constants.RoleReadonly
	}

	if _, err := h.users.FindByLogin(req.Login); err == nil {
		web.FailErr(w, r, web.ErrUserExists)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		web.FailErr(w, r, web.ErrInternalError)
		return
	}

	user := &database.User{
		Login:        req.Login,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
		Role:         req.Role,
	}
	if err := h.users.Create(user); err != nil {
		logger.Auth.Error().Err(err).Str("login", req.Login).Msg("user creation failed")
		web.FailErr(w, r, web.ErrUserCreateFail)
		return
	}

	h.log.Append(web.EventContext(r), eventlog.AppendInput{
		Activity: constants.ActivityUserCreated,
		Login:    user.Login,
		UserID:   user.ID,
	})

	logger.Auth.Info().Str("login", user.Login).Str("role", user.Role).Msg("user created")
	web.OK(w, r, userItem{
		ID:          user.ID,
		Login:       user.Login,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	})
}

// Delete 删除用户，同时清理其作为收件人的全部告警订阅
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		web.FailErr(w, r, web.ErrInvalidParam)
		return
	}
	if uint(id) == web.GetUserID(r) {
		web.FailErr(w, r, web.ErrUserSelfDelete)
		return
	}

	user, err := h.users.FindByID(uint(id))
	if err != nil {
		web.FailErr(w, r, web.ErrUserNotFound)
		return
	}

	if err := h.users.Delete(user.ID); err != nil {
		logger.Auth.Error().Err(err).Uint("id", user.ID).Msg("user deletion failed")
		web.FailErr(w, r, web.ErrUserDeleteFail)
		return
	}

	removed, err := h.subs.DeleteForRecipient(user.ID)
	if err != nil {
		logger.Alert.Warn().Err(err).Uint("id", user.ID).Msg("recipient subscription cleanup failed")
	} else if removed > 0 {
		logger.Alert.Info().Int("removed", removed).Uint("id", user.ID).Msg("recipient subscriptions removed")
	}

	h.log.Append(web.EventContext(r), eventlog.AppendInput{
		Activity: constants.ActivityUserDeleted,
		Login:    user.Login,
		UserID:   user.ID,
	})

	logger.Auth.Info().Str("login", user.Login).Msg("user deleted")
	web.OK(w, r, map[string]string{"message": "deleted"})
}
