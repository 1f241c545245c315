package services

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotifier pushes token alerts to operator devices.
type FCMNotifier struct {
	client       multicastSender
	deviceTokens []string
}

// NewFCMNotifier initializes the Firebase Admin SDK from a service
// account file.
func NewFCMNotifier(ctx context.Context, credentialsFile string, deviceTokens []string) (*FCMNotifier, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("firebase app not initialized: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client not initialized: %w", err)
	}

	log.Printf("FCM Notifier: direct Firebase messaging initialized for %d devices", len(deviceTokens))
	return &FCMNotifier{client: client, deviceTokens: deviceTokens}, nil
}

func (n *FCMNotifier) Notify(ctx context.Context, alert TokenAlert) error {
	if len(n.deviceTokens) == 0 {
		return nil
	}

	data := map[string]string{
		"type": "token_alert",
		"kind": string(alert.Kind),
	}
	if !alert.ExpiresAt.IsZero() {
		data["expires_at"] = alert.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	message := &messaging.MulticastMessage{
		Tokens: n.deviceTokens,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("[TOKEN] %s", alert.Kind),
			Body:  alert.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:         "ic_notification",
				ChannelID:    "high_importance_channel",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
	}

	response, err := n.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast FCM message: %w", err)
	}

	for i, resp := range response.Responses {
		if !resp.Success {
			log.Printf("FCM Notifier: failed to send to device %d: %v", i, resp.Error)
		}
	}
	if response.SuccessCount == 0 {
		return fmt.Errorf("FCM delivered to none of %d devices", len(n.deviceTokens))
	}
	return nil
}
