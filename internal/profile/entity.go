package profile

import "time"

// Relay is a relay endpoint advertised to requesting sites.
type Relay struct {
	URL string `yaml:"url" json:"url"`
}

// NotificationSetting toggles push notifications for request types whose
// name contains Name.
type NotificationSetting struct {
	Name  string `yaml:"name" json:"name"`
	State bool   `yaml:"state" json:"state"`
}

// Profile is the user's own configuration: the signing key, the relay list
// and the notification preferences. There is exactly one profile.
type Profile struct {
	PrivateKey    string                `yaml:"private_key,omitempty" json:"-"`
	Relays        []Relay               `yaml:"relays,omitempty" json:"relays"`
	Notifications []NotificationSetting `yaml:"notifications,omitempty" json:"notifications"`
	UpdatedAt     time.Time             `yaml:"updated_at" json:"updatedAt"`
}
