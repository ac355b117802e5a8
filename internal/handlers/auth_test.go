package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/kvcache"
	"ipsentry/internal/web"
	"ipsentry/internal/webconfig"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) func() {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(
		&database.User{},
		&database.EventRecord{},
		&database.ACLEntry{},
		&database.Lockout{},
		&database.Setting{},
	)
	require.NoError(t, err, "failed to migrate test database")

	database.DB = db

	return func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		database.DB = nil
	}
}

func testConfig() *webconfig.Config {
	return &webconfig.Config{
		Auth: webconfig.AuthConfig{
			JWTSecret: "test-secret-key-for-unit-tests-32chars",
			JWTExpire: "24h",
		},
		Cache: webconfig.CacheConfig{
			QueryLagSeconds:  60,
			WidgetLagSeconds: 120,
		},
	}
}

// newTestEventLog 构造不带分类器与告警引擎的事件日志
func newTestEventLog() *eventlog.Log {
	wm := eventlog.NewWatermarkStore(kvcache.New[string, eventlog.Watermark]())
	return eventlog.NewLog(wm)
}

func createTestUser(t *testing.T, login, password string) *database.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := &database.User{
		Login:        login,
		PasswordHash: string(hash),
		Role:         constants.RoleAdmin,
	}
	err = database.NewUserRepo().Create(user)
	require.NoError(t, err)
	return user
}

func countEvents(t *testing.T, activity int) int64 {
	t.Helper()
	var count int64
	err := database.DB.Model(&database.EventRecord{}).
		Where("activity = ?", activity).Count(&count).Error
	require.NoError(t, err)
	return count
}

// ============== Login Tests ==============

func TestLogin_Success(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	createTestUser(t, "admin", "password123")

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"username":"admin","password":"password123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.True(t, resp["success"].(bool))
	data := resp["data"].(map[string]interface{})
	assert.NotEmpty(t, data["token"])
	assert.NotEmpty(t, data["expires_at"])

	user := data["user"].(map[string]interface{})
	assert.Equal(t, "admin", user["username"])

	// 成功登录应写入登录事件并设置会话 cookie
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityLogin))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "ips_token", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestLogin_WrongPassword(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	createTestUser(t, "admin", "password123")

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"username":"admin","password":"wrongpassword"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.Login(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityLoginFailed))
}

func TestLogin_UnknownUser(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"username":"ghost","password":"whatever"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	handler.Login(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityLoginFailed))
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, "admin", "password123")

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	for i := 0; i < maxFailedAttempts; i++ {
		body := `{"username":"admin","password":"wrong"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		handler.Login(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	locked, err := database.NewUserRepo().FindByID(user.ID)
	require.NoError(t, err)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, locked.LockedUntil.After(time.Now().UTC()))

	// 锁定期间即使密码正确也拒绝
	body := `{"username":"admin","password":"password123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handler.Login(w, req)
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestLogin_EmptyCredentials(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"username":"","password":""}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	handler.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============== Setup Tests ==============

func TestSetup_FirstUserOnly(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"username":"admin","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handler.Setup(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityUserCreated))

	// 第二次 setup 必须拒绝
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/setup", bytes.NewBufferString(body))
	w = httptest.NewRecorder()
	handler.Setup(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ============== ChangePassword Tests ==============

func TestChangePassword(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, "admin", "oldpass123")

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"old_password":"oldpass123","new_password":"newpass456"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/auth/password", bytes.NewBufferString(body))
	req = web.SetUserInfo(req, user.ID, user.Login, user.Role)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityPasswordReset))

	updated, err := database.NewUserRepo().FindByID(user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("newpass456")))
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, "admin", "oldpass123")

	handler := NewAuthHandler(testConfig(), newTestEventLog())

	body := `{"old_password":"nope","new_password":"newpass456"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/auth/password", bytes.NewBufferString(body))
	req = web.SetUserInfo(req, user.ID, user.Login, user.Role)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
