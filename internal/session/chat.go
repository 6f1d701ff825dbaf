package session

import (
	"context"
	"fmt"
	"time"

	stream_chat "github.com/GetStream/stream-chat-go/v5"
)

const chatChannelType = "messaging"

// ChatProvider backs chat-type consultations.
type ChatProvider interface {
	EnsureChannel(ctx context.Context, channel, createdBy string, members ...string) error
	IssueToken(userID string, expiresAt time.Time) (string, error)
}

type StreamChat struct {
	client *stream_chat.Client
}

func NewStreamChat(apiKey, apiSecret string) (*StreamChat, error) {
	client, err := stream_chat.NewClient(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("stream chat client: %w", err)
	}
	return &StreamChat{client: client}, nil
}

// EnsureChannel upserts the members and creates the channel. Both calls are idempotent on Stream.
func (s *StreamChat) EnsureChannel(ctx context.Context, channel, createdBy string, members ...string) error {
	users := make([]*stream_chat.User, 0, len(members))
	for _, m := range members {
		users = append(users, &stream_chat.User{ID: m})
	}
	if _, err := s.client.UpsertUsers(ctx, users...); err != nil {
		return fmt.Errorf("upsert chat users: %w", err)
	}
	if _, err := s.client.CreateChannelWithMembers(ctx, chatChannelType, channel, createdBy, members...); err != nil {
		return fmt.Errorf("create chat channel: %w", err)
	}
	return nil
}

func (s *StreamChat) IssueToken(userID string, expiresAt time.Time) (string, error) {
	return s.client.CreateToken(userID, expiresAt)
}
