package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

func TestNumericUID_StableAndUserSpecific(t *testing.T) {
	a := uuid.MustParse("6f1c1d7e-8a55-4b8e-9a0c-2b1e0d3c4f5a")
	b := uuid.MustParse("0b7a2c1d-1f2e-4d3c-8b9a-7e6f5d4c3b2a")

	assert.Equal(t, NumericUID(a), NumericUID(a))
	assert.NotEqual(t, NumericUID(a), NumericUID(b))
}

func TestChannelName_Format(t *testing.T) {
	id := uuid.MustParse("6f1c1d7e-8a55-4b8e-9a0c-2b1e0d3c4f5a")
	name := ChannelName(id, time.UnixMilli(1_700_000_000_000))

	assert.True(t, strings.HasPrefix(name, "ks-6f1c1d7e-"), name)
	assert.True(t, ValidChannelName(name))
	assert.False(t, ValidChannelName("bad channel!"))
	assert.False(t, ValidChannelName(strings.Repeat("a", 65)))
}

func TestJWTTokenIssuer_SignsVerifiableToken(t *testing.T) {
	issuer, err := NewJWTTokenIssuer("app-1", "certificate")
	require.NoError(t, err)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	tok, err := issuer.IssueToken("ks-abc-1", 42, RolePublisher, 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTokenTTL), tok.ExpiresAt)

	claims, err := issuer.Parse(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "ks-abc-1", claims.Channel)
	assert.Equal(t, uint32(42), claims.UID)
	assert.Equal(t, RolePublisher, claims.Role)
}

func TestJWTTokenIssuer_ExpiredTokenRejected(t *testing.T) {
	issuer, err := NewJWTTokenIssuer("app-1", "certificate")
	require.NoError(t, err)
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	tok, err := issuer.IssueToken("ks-abc-1", 42, RolePublisher, time.Hour)
	require.NoError(t, err)

	issuer.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = issuer.Parse(tok.Value)
	assert.Error(t, err)
}

func TestJWTTokenIssuer_RejectsBadChannel(t *testing.T) {
	issuer, err := NewJWTTokenIssuer("app-1", "certificate")
	require.NoError(t, err)

	_, err = issuer.IssueToken("no spaces allowed", 1, RolePublisher, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

type fakeChat struct {
	channels []string
	members  []string
	err      error
}

func (f *fakeChat) EnsureChannel(_ context.Context, channel, _ string, members ...string) error {
	if f.err != nil {
		return f.err
	}
	f.channels = append(f.channels, channel)
	f.members = members
	return nil
}

func (f *fakeChat) IssueToken(userID string, _ time.Time) (string, error) {
	return "chat-" + userID, nil
}

func TestIssuer_VideoAndChat(t *testing.T) {
	video, err := NewJWTTokenIssuer("app-1", "certificate")
	require.NoError(t, err)
	chat := &fakeChat{}
	issuer := NewIssuer(video, chat, "app-1", 0)

	farmer, expert := uuid.New(), uuid.New()
	channel := issuer.AllocateChannel(uuid.New(), time.Now())

	cred, err := issuer.Issue(context.Background(), Request{
		Channel: channel, Type: model.ConsultationTypeVideo, UserID: farmer, PeerID: expert,
	})
	require.NoError(t, err)
	assert.Equal(t, RolePublisher, cred.Role)
	assert.Equal(t, NumericUID(farmer), cred.UID)
	assert.NotEmpty(t, cred.Token)
	assert.Empty(t, chat.channels)

	cred, err = issuer.Issue(context.Background(), Request{
		Channel: channel, Type: model.ConsultationTypeChat, UserID: expert, PeerID: farmer,
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-"+expert.String(), cred.Token)
	assert.Equal(t, []string{channel}, chat.channels)
	assert.ElementsMatch(t, []string{expert.String(), farmer.String()}, chat.members)
}

func TestIssuer_ChatFailurePropagates(t *testing.T) {
	video, err := NewJWTTokenIssuer("app-1", "certificate")
	require.NoError(t, err)
	boom := errors.New("stream down")
	issuer := NewIssuer(video, &fakeChat{err: boom}, "app-1", time.Hour)

	_, err = issuer.Issue(context.Background(), Request{
		Channel: "ks-a-1", Type: model.ConsultationTypeChat, UserID: uuid.New(), PeerID: uuid.New(),
	})
	assert.ErrorIs(t, err, boom)

	noChat := NewIssuer(video, nil, "app-1", time.Hour)
	_, err = noChat.Issue(context.Background(), Request{Channel: "ks-a-1", Type: model.ConsultationTypeChat})
	assert.ErrorIs(t, err, ErrChatUnavailable)
}
