package notification

import (
	"errors"
	"time"
)

var ErrInvalidToken = errors.New("device token is required")

// DeviceToken is one registered push target for a user.
type DeviceToken struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"-"`
	Platform  string    `json:"platform"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RegisterParams registers (or reassigns) a device token.
type RegisterParams struct {
	UserID   int64
	Token    string
	Platform string
}

func (p RegisterParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	return nil
}
