package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("whsec")
	payload := []byte(`{"id":"evnt_test_1"}`)
	now := time.Unix(1_750_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	good := sign(secret, ts, payload)

	assert.True(t, verifyHMAC(secret, payload, good, ts, now))
	assert.True(t, verifyHMAC(secret, payload, "deadbeef,"+good, ts, now), "rotated secrets")
	assert.False(t, verifyHMAC(secret, []byte(`{"id":"evnt_other"}`), good, ts, now))
	assert.False(t, verifyHMAC([]byte("other"), payload, good, ts, now))
	assert.False(t, verifyHMAC(secret, payload, good, ts, now.Add(10*time.Minute)), "stale timestamp")
	assert.False(t, verifyHMAC(secret, payload, "", ts, now))
	assert.False(t, verifyHMAC(nil, payload, good, ts, now))
}

func TestSubunits(t *testing.T) {
	assert.Equal(t, int64(74533), ToSubunits(decimal.RequireFromString("745.33")))
	assert.Equal(t, int64(100000), ToSubunits(decimal.NewFromInt(1000)))
	assert.True(t, FromSubunits(74533).Equal(decimal.RequireFromString("745.33")))
}

func TestDo_TimesOut(t *testing.T) {
	g := &OmiseGateway{timeout: 20 * time.Millisecond, now: time.Now}
	release := make(chan struct{})
	defer close(release)

	err := g.do(context.Background(), func() error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDo_ReturnsCallError(t *testing.T) {
	g := &OmiseGateway{timeout: time.Second, now: time.Now}
	boom := assert.AnError

	err := g.do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}
