package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
)

var ErrChatUnavailable = errors.New("chat provider is not configured")

type Request struct {
	Channel string
	Type    model.ConsultationType
	UserID  uuid.UUID
	PeerID  uuid.UUID
}

// Credential is handed to one participant; it is never persisted.
type Credential struct {
	Channel   string
	UID       uint32
	Role      Role
	Token     string
	ExpiresAt time.Time
	AppID     string
	Type      model.ConsultationType
}

// Issuer picks the provider by consultation type: chat goes to the chat
// provider, audio and video get an RTC token.
type Issuer struct {
	video VideoTokenIssuer
	chat  ChatProvider
	appID string
	ttl   time.Duration
	now   func() time.Time
}

func NewIssuer(video VideoTokenIssuer, chat ChatProvider, appID string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{video: video, chat: chat, appID: appID, ttl: ttl, now: time.Now}
}

func (i *Issuer) AllocateChannel(consultationID uuid.UUID, at time.Time) string {
	return ChannelName(consultationID, at)
}

// Issue signs a publisher credential. Both sides of a 1:1 call publish.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Credential, error) {
	cred := &Credential{
		Channel: req.Channel,
		UID:     NumericUID(req.UserID),
		Role:    RolePublisher,
		AppID:   i.appID,
		Type:    req.Type,
	}

	if req.Type == model.ConsultationTypeChat {
		if i.chat == nil {
			return nil, ErrChatUnavailable
		}
		userID := req.UserID.String()
		if err := i.chat.EnsureChannel(ctx, req.Channel, userID, userID, req.PeerID.String()); err != nil {
			return nil, err
		}
		expiresAt := i.now().UTC().Truncate(time.Second).Add(i.ttl)
		token, err := i.chat.IssueToken(userID, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("chat token: %w", err)
		}
		cred.Token = token
		cred.ExpiresAt = expiresAt
		return cred, nil
	}

	token, err := i.video.IssueToken(req.Channel, cred.UID, cred.Role, i.ttl)
	if err != nil {
		return nil, err
	}
	cred.Token = token.Value
	cred.ExpiresAt = token.ExpiresAt
	return cred, nil
}
