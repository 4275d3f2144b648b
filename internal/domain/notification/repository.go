package notification

import "context"

// Repository defines device-token persistence.
type Repository interface {
	UpsertDeviceToken(ctx context.Context, params RegisterParams) (*DeviceToken, error)
	ListActiveTokens(ctx context.Context, userID int64) ([]string, error)
	DeactivateToken(ctx context.Context, token string) error
}

// Messenger sends push notifications; implemented by the FCM client.
type Messenger interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}
