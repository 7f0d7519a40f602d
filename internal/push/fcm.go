package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSender sends data-only pushes via Firebase Cloud Messaging. It only
// handles the "fcm" platform; other platforms are rejected so a
// MultiSender can route by platform without the sender needing to know
// about its siblings.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initializes a Firebase app from the service-account JSON
// file at credentialsFile. If empty, the SDK falls back to
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	slog.Info("fcm sender initialized")
	return &FCMSender{client: client}, nil
}

// Send delivers a data-only, high-priority push carrying payload to token.
func (f *FCMSender) Send(platform, token string, payload Payload) error {
	if platform != "fcm" {
		return fmt.Errorf("fcm sender: unsupported platform %q", platform)
	}

	ttl := time.Duration(30) * time.Second
	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":         payload.Type,
			"callId":       payload.CallID,
			"callerNumber": payload.CallerNumber,
			"callerName":   payload.CallerName,
			"sipUsername":  payload.SIPCredentials.Username,
			"sipPassword":  payload.SIPCredentials.Password,
			"sipDomain":    payload.SIPCredentials.Domain,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := f.client.Send(context.Background(), msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm: token no longer valid: %w", err)
		}
		return fmt.Errorf("fcm: send failed: %w", err)
	}

	slog.Debug("fcm push sent", "message_id", id, "call_id", payload.CallID)
	return nil
}
