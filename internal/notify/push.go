// Package notify delivers outbox notifications to user devices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"github.com/automotiv/khetisahayak-sub001/internal/model"
	"github.com/automotiv/khetisahayak-sub001/internal/observability"
)

// Message is one notification for one user; it fans out to all of the user's devices.
type Message struct {
	UserID uuid.UUID
	Title  string
	Body   string
	Data   map[string]string
}

// Result counts per-device outcomes of one Send.
type Result struct {
	Delivered int
	Failed    int
	Removed   int
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// DeviceStore is the subset of repository.DeviceRepository used here.
type DeviceStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.DeviceToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

type ExpoClient interface {
	Publish(msg *expo.PushMessage) (expo.PushResponse, error)
}

type APNsClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

var ErrUndelivered = errors.New("notification was not delivered to any device")

// PushNotifier sends through Expo for expo tokens and directly through APNs
// for native iOS tokens. Tokens the provider reports as dead are deleted.
type PushNotifier struct {
	devices DeviceStore
	expo    ExpoClient
	apns    APNsClient // nil: APNs не настроен
	topic   string
	logger  *zap.Logger
}

func NewPushNotifier(devices DeviceStore, expoClient ExpoClient, apnsClient APNsClient, topic string, logger *zap.Logger) *PushNotifier {
	return &PushNotifier{
		devices: devices,
		expo:    expoClient,
		apns:    apnsClient,
		topic:   topic,
		logger:  logger.Named("push"),
	}
}

func NewExpoClient(timeout time.Duration) *expo.PushClient {
	return expo.NewPushClient(&expo.ClientConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
}

// NewAPNsClient builds a token-based client from a .p8 key.
func NewAPNsClient(keyPath, keyID, teamID string, production bool) (*apns2.Client, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read apns auth key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: authKey, KeyID: keyID, TeamID: teamID})
	if production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// Send delivers msg to every registered device of the user. A user without
// devices is not an error: the notification is simply not pushed.
func (n *PushNotifier) Send(ctx context.Context, msg Message) (Result, error) {
	var res Result
	devices, err := n.devices.ListByUser(ctx, msg.UserID)
	if err != nil {
		return res, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		n.logger.Debug("no devices registered", zap.String("user_id", msg.UserID.String()))
		return res, nil
	}

	var lastErr error
	for _, d := range devices {
		var (
			dead bool
			err  error
		)
		switch d.Platform {
		case model.DevicePlatformExpo:
			dead, err = n.sendExpo(ctx, d.Token, msg)
		case model.DevicePlatformIOS:
			dead, err = n.sendAPNs(ctx, d.Token, msg)
		default:
			err = fmt.Errorf("unsupported platform %q", d.Platform)
		}

		if dead {
			if delErr := n.devices.DeleteByToken(ctx, d.Token); delErr != nil {
				n.logger.Warn("failed to remove dead token", zap.Error(delErr))
			} else {
				res.Removed++
			}
		}
		if err != nil {
			res.Failed++
			lastErr = err
			n.logger.Warn("push failed",
				zap.String("user_id", msg.UserID.String()),
				zap.String("platform", string(d.Platform)),
				zap.Bool("token_removed", dead),
				zap.Error(err),
			)
			continue
		}
		res.Delivered++
	}

	if res.Delivered == 0 && res.Failed > 0 {
		return res, fmt.Errorf("%w: %v", ErrUndelivered, lastErr)
	}
	return res, nil
}

func (n *PushNotifier) sendExpo(_ context.Context, raw string, msg Message) (dead bool, err error) {
	pushToken, err := expo.NewExponentPushToken(raw)
	if err != nil {
		return true, fmt.Errorf("invalid expo token: %w", err)
	}

	started := time.Now()
	// SDK не принимает context; таймаут задан в http.Client.
	resp, err := n.expo.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{pushToken},
		Title:    msg.Title,
		Body:     msg.Body,
		Data:     msg.Data,
		Sound:    "default",
		Priority: expo.HighPriority,
	})
	observability.ObserveExternalCall("expo", "publish", started, err)
	if err != nil {
		return false, fmt.Errorf("expo publish: %w", err)
	}
	if err := resp.ValidateResponse(); err != nil {
		var notRegistered *expo.DeviceNotRegisteredError
		return errors.As(err, &notRegistered), fmt.Errorf("expo rejected: %w", err)
	}
	return false, nil
}

func (n *PushNotifier) sendAPNs(ctx context.Context, deviceToken string, msg Message) (dead bool, err error) {
	if n.apns == nil {
		return false, errors.New("apns is not configured")
	}

	p := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound("default")
	for k, v := range msg.Data {
		p.Custom(k, v)
	}

	started := time.Now()
	resp, err := n.apns.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       n.topic,
		Payload:     p,
	})
	observability.ObserveExternalCall("apns", "push", started, err)
	if err != nil {
		return false, fmt.Errorf("apns push: %w", err)
	}
	if !resp.Sent() {
		dead = resp.Reason == apns2.ReasonBadDeviceToken || resp.Reason == apns2.ReasonUnregistered
		return dead, fmt.Errorf("apns rejected: %d %s", resp.StatusCode, resp.Reason)
	}
	return false, nil
}
