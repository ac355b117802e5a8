package alert

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipsentry/internal/constants"
	"ipsentry/internal/database"
	"ipsentry/internal/eventlog"
	"ipsentry/internal/kvcache"
	"ipsentry/internal/testutil"
)

type captureDispatcher struct {
	messages []Message
	fail     bool
}

func (c *captureDispatcher) Dispatch(msg Message) error {
	c.messages = append(c.messages, msg)
	if c.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func newTestEngine(t *testing.T, gap time.Duration) (*Engine, *Store, *captureDispatcher) {
	t.Helper()
	store := NewStore()
	engine := NewEngine(store, kvcache.New[string, string](), gap)
	d := &captureDispatcher{}
	engine.SetDispatcher(d)
	return engine, store, d
}

func blockEvent(ip string, activity int) *database.EventRecord {
	return &database.EventRecord{
		IP:       ip,
		Activity: activity,
		ACStatus: constants.StatusTooManyFailures,
	}
}

func TestSubscription_Validate_NoCriteria(t *testing.T) {
	sub := Subscription{RateLimit: 3, Channels: Channels{Email: true}}
	assert.ErrorIs(t, sub.Validate(), ErrNoCriteria)

	sub.Activities = []int{constants.ActivityIPBlocked}
	assert.NoError(t, sub.Validate())
}

func TestSubscription_HashID_Idempotent(t *testing.T) {
	a := Subscription{Activities: []int{10, 11}, Login: "admin"}
	b := Subscription{Activities: []int{11, 10}, Login: "admin", RateLimit: 5, SentCount: 2}

	assert.Equal(t, a.HashID(), b.HashID(),
		"activity order, rate limit and counters must not change identity")

	c := Subscription{Activities: []int{10, 11}, Login: "other"}
	assert.NotEqual(t, a.HashID(), c.HashID())
}

func TestStore_Create_Duplicate(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore()
	sub := Subscription{Activities: []int{10}}

	id, err := store.Create(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = store.Create(sub)
	assert.ErrorIs(t, err, ErrExists)

	subs, _ := store.List()
	assert.Len(t, subs, 1)
}

func TestStore_DeleteMakesExistsFalse(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore()
	sub := Subscription{Activities: []int{10}}
	id, err := store.Create(sub)
	require.NoError(t, err)

	exists, err := store.Exists(sub)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(id))

	exists, err = store.Exists(sub)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, store.Delete(id), ErrNotFound)
}

func TestEngine_Evaluate_RateLimit(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	_, err := store.Create(Subscription{
		Activities: []int{constants.ActivityIPBlocked, constants.ActivitySubnetBlocked},
		RateLimit:  3,
	})
	require.NoError(t, err)

	// Three block events from three addresses: one delivery each
	for i := 0; i < 3; i++ {
		rctx := eventlog.NewRequestContext("10.0.0.1")
		engine.Evaluate(rctx, blockEvent(fmt.Sprintf("203.0.113.%d", i+1), constants.ActivityIPBlocked))
		assert.True(t, rctx.AlertSent)
	}
	assert.Len(t, d.messages, 3)

	// Budget spent: the fourth event produces no delivery
	rctx := eventlog.NewRequestContext("10.0.0.1")
	engine.Evaluate(rctx, blockEvent("203.0.113.4", constants.ActivityIPBlocked))
	assert.False(t, rctx.AlertSent)
	assert.Len(t, d.messages, 3)

	subs, _ := store.List()
	require.Len(t, subs, 1)
	assert.Equal(t, 3, subs[0].SentCount)
}

func TestEngine_Evaluate_FirstMatchWins(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	first, err := store.Create(Subscription{Activities: []int{constants.ActivityIPBlocked}})
	require.NoError(t, err)
	_, err = store.Create(Subscription{IP: "203.0.113.9"})
	require.NoError(t, err)

	rctx := eventlog.NewRequestContext("10.0.0.1")
	engine.Evaluate(rctx, blockEvent("203.0.113.9", constants.ActivityIPBlocked))

	// Both subscriptions match the event; only the first fires
	require.Len(t, d.messages, 1)
	subs, _ := store.List()
	assert.Equal(t, first, subs[0].ID)
}

func TestEngine_Evaluate_OnePerRequest(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	_, err := store.Create(Subscription{Activities: []int{constants.ActivityIPBlocked}})
	require.NoError(t, err)

	rctx := eventlog.NewRequestContext("10.0.0.1")
	engine.Evaluate(rctx, blockEvent("203.0.113.9", constants.ActivityIPBlocked))
	engine.Evaluate(rctx, blockEvent("203.0.113.10", constants.ActivityIPBlocked))

	assert.Len(t, d.messages, 1, "a request sends at most one notification")
}

func TestEngine_Evaluate_CriteriaRejection(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	_, err := store.Create(Subscription{
		Activities: []int{constants.ActivityIPBlocked},
		Status:     constants.StatusDenyListed,
	})
	require.NoError(t, err)

	// Status mismatch rejects even though the activity matches
	rctx := eventlog.NewRequestContext("10.0.0.1")
	engine.Evaluate(rctx, blockEvent("203.0.113.9", constants.ActivityIPBlocked))
	assert.Empty(t, d.messages)

	rec := blockEvent("203.0.113.9", constants.ActivityIPBlocked)
	rec.ACStatus = constants.StatusDenyListed
	rctx = eventlog.NewRequestContext("10.0.0.1")
	engine.Evaluate(rctx, rec)
	assert.Len(t, d.messages, 1)
}

func TestEngine_Evaluate_IPRange(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	// 203.0.113.0 - 203.0.113.255
	_, err := store.Create(Subscription{IPRangeBegin: 0xCB007100, IPRangeEnd: 0xCB0071FF})
	require.NoError(t, err)

	in := blockEvent("203.0.113.9", constants.ActivityIPBlocked)
	in.IPNumeric = 0xCB007109
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), in)
	assert.Len(t, d.messages, 1)

	out := blockEvent("203.0.114.9", constants.ActivityIPBlocked)
	out.IPNumeric = 0xCB007209
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), out)
	assert.Len(t, d.messages, 1)
}

func TestEngine_Evaluate_FreeText(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	user := &database.User{Login: "jdoe", DisplayName: "Jane Doe", PasswordHash: "h", Role: "admin"}
	require.NoError(t, database.NewUserRepo().Create(user))

	engine, store, d := newTestEngine(t, 0)
	_, err := store.Create(Subscription{FreeText: "jane"})
	require.NoError(t, err)

	rec := blockEvent("203.0.113.9", constants.ActivityLoginFailed)
	rec.UserID = user.ID
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), rec)
	assert.Len(t, d.messages, 1, "free text matches against the display name")

	rec2 := blockEvent("203.0.113.9", constants.ActivityLoginFailed)
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), rec2)
	assert.Len(t, d.messages, 1)
}

func TestEngine_Evaluate_Expired(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	past := time.Now().Add(-time.Hour)
	_, err := store.Create(Subscription{
		Activities: []int{constants.ActivityIPBlocked},
		ExpiresAt:  &past,
	})
	require.NoError(t, err)

	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.9", constants.ActivityIPBlocked))
	assert.Empty(t, d.messages)
}

func TestEngine_Evaluate_GlobalGap(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 30*time.Second)
	_, err := store.Create(Subscription{Activities: []int{constants.ActivityIPBlocked}})
	require.NoError(t, err)

	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.1", constants.ActivityIPBlocked))
	require.Len(t, d.messages, 1)

	// Within the gap: suppressed
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.2", constants.ActivityIPBlocked))
	assert.Len(t, d.messages, 1)
}

func TestEngine_Evaluate_IgnoreGlobalGap(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 30*time.Second)
	_, err := store.Create(Subscription{
		Activities:            []int{constants.ActivityIPBlocked},
		IgnoreGlobalRateLimit: true,
	})
	require.NoError(t, err)

	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.1", constants.ActivityIPBlocked))
	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.2", constants.ActivityIPBlocked))
	assert.Len(t, d.messages, 2)
}

func TestEngine_Evaluate_DeliveryFailureKeepsCounter(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	engine, store, d := newTestEngine(t, 0)
	d.fail = true
	_, err := store.Create(Subscription{
		Activities: []int{constants.ActivityIPBlocked},
		RateLimit:  5,
	})
	require.NoError(t, err)

	engine.Evaluate(eventlog.NewRequestContext("10.0.0.1"), blockEvent("203.0.113.1", constants.ActivityIPBlocked))

	// Delivery was attempted: the counter stays committed
	subs, _ := store.List()
	assert.Equal(t, 1, subs[0].SentCount)
}

func TestStore_DeleteForRecipient(t *testing.T) {
	cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := NewStore()
	_, err := store.Create(Subscription{Activities: []int{10}, Channels: Channels{RecipientUserID: 7}})
	require.NoError(t, err)
	_, err = store.Create(Subscription{Activities: []int{11}, Channels: Channels{RecipientUserID: 8}})
	require.NoError(t, err)

	n, err := store.DeleteForRecipient(7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	subs, _ := store.List()
	require.Len(t, subs, 1)
	assert.Equal(t, uint(8), subs[0].Channels.RecipientUserID)
}

func TestBuildMessage_MaskedVariant(t *testing.T) {
	rec := &database.EventRecord{
		IP:        "203.0.113.9",
		UserLogin: "admin",
		Activity:  constants.ActivityLoginFailed,
		Details:   eventlog.Details{RequestURL: "/wp-login.php"}.Encode(),
	}
	msg := buildMessage(&Subscription{}, rec)

	assert.Contains(t, msg.Body, "203.0.113.9")
	assert.Contains(t, msg.Body, "admin")
	assert.NotContains(t, msg.MaskedBody, "203.0.113.9")
	assert.Contains(t, msg.MaskedBody, "203.0.113.x")
	assert.Contains(t, msg.MaskedBody, "a***")
	assert.Equal(t, "/wp-login.php", msg.Fields["url"])
}
