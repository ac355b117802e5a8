package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/viewcache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestEvent(t *testing.T, log *eventlog.Log, ip string, activity int) {
	t.Helper()
	rctx := eventlog.NewRequestContext(ip)
	ok := log.Append(rctx, eventlog.AppendInput{
		Activity: activity,
		Login:    "admin",
		UserID:   1,
		URL:      "/wp-login.php",
	})
	require.True(t, ok)
}

func TestEventList(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	log := newTestEventLog()
	views := viewcache.New(log.Watermark())
	handler := NewEventHandler(testConfig(), log, views)

	for i := 0; i < 3; i++ {
		appendTestEvent(t, log, fmt.Sprintf("203.0.113.%d", i+1), constants.ActivityLoginFailed)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?activity=7", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total"])
	items := data["items"].([]interface{})
	require.Len(t, items, 3)
	first := items[0].(map[string]interface{})
	assert.Equal(t, float64(constants.ActivityLoginFailed), first["activity"])
	assert.Equal(t, "/wp-login.php", first["url"])
}

func TestEventList_CachedUntilWatermarkAdvances(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	log := newTestEventLog()
	views := viewcache.New(log.Watermark())
	handler := NewEventHandler(testConfig(), log, views)

	appendTestEvent(t, log, "203.0.113.1", constants.ActivityLoginFailed)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// 绕过日志直接写库：水位线不前进，缓存继续返回旧结果
	require.NoError(t, database.NewEventRepo().Create(&database.EventRecord{
		IP:       "203.0.113.9",
		Activity: constants.ActivityLoginFailed,
	}))

	w = httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"], "stale payload reused while watermark unchanged")
}

func TestEventGet(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	log := newTestEventLog()
	views := viewcache.New(log.Watermark())
	handler := NewEventHandler(testConfig(), log, views)

	appendTestEvent(t, log, "203.0.113.1", constants.ActivityLogin)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/1", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "203.0.113.1", data["ip"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/999", nil)
	req.SetPathValue("id", "999")
	w = httptest.NewRecorder()
	handler.Get(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventDelete_ResetsWatermarkAndPurgesCache(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	log := newTestEventLog()
	views := viewcache.New(log.Watermark())
	handler := NewEventHandler(testConfig(), log, views)

	appendTestEvent(t, log, "203.0.113.1", constants.ActivityLoginFailed)
	require.False(t, log.Watermark().Current().IsZero())

	// 预热一个缓存条目
	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, views.Len())

	body := `{"all":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/delete", bytes.NewBufferString(body))
	w = httptest.NewRecorder()
	handler.Delete(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["deleted"])

	assert.Equal(t, 0, views.Len())
	// 删除本身记一条清理事件，水位线随之重新推进
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityLogPurged))
}

func TestEventDelete_NoCriteriaDeletesNothing(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	log := newTestEventLog()
	views := viewcache.New(log.Watermark())
	handler := NewEventHandler(testConfig(), log, views)

	appendTestEvent(t, log, "203.0.113.1", constants.ActivityLoginFailed)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/delete", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	handler.Delete(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), countEvents(t, constants.ActivityLoginFailed))
}
