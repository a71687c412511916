// Package database provides storage backends for subscriptions and settings.
package database

import (
	"errors"

	"github.com/bryan-buckman/tubevore/internal/model"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for persistence operations.
// PostgreSQL, SQLite and JSON file implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the backend ("PostgreSQL", "SQLite" or "JSON").
	DatabaseType() string

	// Subscription operations
	ListSubscriptions() ([]model.ChannelRef, error)
	// AddSubscription stores ref unless its channel id is already subscribed.
	// It reports whether a new row was created.
	AddSubscription(ref model.ChannelRef) (bool, error)
	RemoveSubscription(channelID string) error
	ClearSubscriptions() error

	// Settings operations
	ReadSettings() (model.UserSettings, error)
	// WriteSettings validates patch, merges it over the stored settings and
	// persists the result. An invalid patch returns *model.ValidationError
	// and leaves the stored settings untouched.
	WriteSettings(patch model.SettingsPatch) (model.UserSettings, error)
}

// mergeSettings validates patch and applies it to the current settings.
func mergeSettings(current model.UserSettings, patch model.SettingsPatch) (model.UserSettings, error) {
	if err := patch.Validate(); err != nil {
		return current, err
	}
	return patch.Apply(current), nil
}
