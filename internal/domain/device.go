package domain

import (
	"strings"
	"time"
)

// Platform is the mobile platform a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

func (p Platform) IsValid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// DeviceToken is an FCM registration token owned by a staff member.
type DeviceToken struct {
	StaffID   string    `json:"staff_id"`
	Token     string    `json:"token"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterDeviceRequest is the inbound payload for device registration.
type RegisterDeviceRequest struct {
	Token    string   `json:"token"`
	Platform Platform `json:"platform"`
}

func (r *RegisterDeviceRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return ErrInvalidToken
	}
	if !r.Platform.IsValid() {
		return ErrInvalidPlatform
	}
	return nil
}
