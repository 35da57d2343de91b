package presence

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/lib/handlers/slogdiscard"
	"judgeauth/internal/lib/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func claims(uid int64, name string) models.AccessClaims {
	return models.AccessClaims{UserID: uid, Username: name, DisplayName: name, Role: models.RoleUser}
}

func TestOnline_DedupesByUser(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := New(slogdiscard.NewDiscardLogger(), time.Minute, WithClock(clk.Now))

	r.Connect("c1", claims(2, "bob"))
	clk.Advance(time.Second)
	r.Connect("c2", claims(1, "alice"))
	clk.Advance(time.Second)
	r.Connect("c3", claims(2, "bob"))

	online := r.Online()
	require.Len(t, online, 2)
	assert.Equal(t, int64(2), online[0].UserID)
	assert.Equal(t, int64(1), online[1].UserID)

	assert.True(t, r.Disconnect("c1"))
	assert.False(t, r.Disconnect("c1"))

	online = r.Online()
	require.Len(t, online, 2)
	assert.Equal(t, int64(1), online[0].UserID)
	assert.Equal(t, int64(2), online[1].UserID)
}

func TestEvictExpired(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := New(slogdiscard.NewDiscardLogger(), time.Minute, WithClock(clk.Now))

	r.Connect("idle", claims(1, "alice"))
	r.Connect("busy", claims(2, "bob"))

	clk.Advance(50 * time.Second)
	r.Connect("busy", claims(2, "bob"))

	clk.Advance(20 * time.Second)
	assert.Equal(t, 1, r.EvictExpired())

	online := r.Online()
	require.Len(t, online, 1)
	assert.Equal(t, "bob", online[0].Username)
}

func TestRun_ClearsOnShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := New(slogdiscard.NewDiscardLogger(), time.Minute, WithMetrics(m))

	r.Connect("c1", claims(1, "alice"))
	r.Connect("c2", claims(2, "bob"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Empty(t, r.Online())
	expected := `
# HELP auth_online_users Distinct users currently present.
# TYPE auth_online_users gauge
auth_online_users 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "auth_online_users"))
}

func TestRun_SweepsIdle(t *testing.T) {
	r := New(slogdiscard.NewDiscardLogger(), 20*time.Millisecond)
	r.Connect("c1", claims(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return len(r.Online()) == 0 }, time.Second, 5*time.Millisecond)
}
