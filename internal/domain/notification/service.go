package notification

import (
	"context"
	"fmt"
	"log"
)

// Service sends user-facing push notifications. Every send is best effort:
// a push failure never fails the operation that triggered it.
type Service struct {
	repo      Repository
	messenger Messenger
}

// NewService creates a new notification service. messenger may be nil
// (pushes disabled), in which case sends are no-ops.
func NewService(repo Repository, messenger Messenger) *Service {
	return &Service{repo: repo, messenger: messenger}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params RegisterParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// SendReconnectRequired tells the user a bank connection stopped working.
func (s *Service) SendReconnectRequired(ctx context.Context, userID int64, institutionName string) {
	title := "Bank connection needs attention"
	body := fmt.Sprintf("%s can no longer be reached. Reconnect it to keep your transactions up to date.", institutionName)
	s.send(ctx, userID, title, body, map[string]string{"type": "reconnect_required"})
}

// SendSyncComplete tells the user new transactions arrived.
func (s *Service) SendSyncComplete(ctx context.Context, userID int64, added int) {
	if added == 0 {
		return
	}
	title := "New transactions"
	body := fmt.Sprintf("%d new transactions were imported.", added)
	s.send(ctx, userID, title, body, map[string]string{"type": "sync_complete"})
}

func (s *Service) send(ctx context.Context, userID int64, title, body string, data map[string]string) {
	if s.messenger == nil {
		return
	}

	tokens, err := s.repo.ListActiveTokens(ctx, userID)
	if err != nil {
		log.Printf("Notification: failed to list tokens for user %d: %v", userID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := s.messenger.SendMulticast(ctx, tokens, title, body, data); err != nil {
		log.Printf("Notification: send failed for user %d: %v", userID, err)
	}
}
