package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis поднимает redis:7-alpine; без Docker тест пропускается.
func startRedis(t *testing.T) *Redis {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := NewClient(fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	r := New(client, "test:")
	require.NoError(t, r.Ping(ctx))
	return r
}

func TestRedis_GetSetDeleteByPrefix(t *testing.T) {
	r := startRedis(t)
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "slots:a:2025-06-02")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "slots:a:2025-06-02", []byte(`[1]`), time.Minute))
	require.NoError(t, r.Set(ctx, "slots:a:2025-06-03", []byte(`[2]`), time.Minute))
	require.NoError(t, r.Set(ctx, "slots:b:2025-06-02", []byte(`[3]`), time.Minute))

	got, ok, err := r.Get(ctx, "slots:a:2025-06-02")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[1]`), got)

	require.NoError(t, r.DeleteByPrefix(ctx, "slots:a:"))
	_, ok, _ = r.Get(ctx, "slots:a:2025-06-03")
	assert.False(t, ok)
	_, ok, _ = r.Get(ctx, "slots:b:2025-06-02")
	assert.True(t, ok)

	assert.ErrorIs(t, r.DeleteByPrefix(ctx, ""), ErrKeyEmpty)
}

func TestRedis_TryLock(t *testing.T) {
	r := startRedis(t)
	ctx := context.Background()

	lock, ok, err := r.TryLock(ctx, "payment_reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryLock(ctx, "payment_reaper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	again, ok, err := r.TryLock(ctx, "payment_reaper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Чужой (просроченный) лок не снимает текущий.
	require.NoError(t, lock.Release(ctx))
	_, ok, err = r.TryLock(ctx, "payment_reaper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, again.Release(ctx))
}
