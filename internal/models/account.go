package models

import (
	"time"

	"github.com/kithapp/kith/internal/remote"
)

// Account represents one user. The id matches the authentication identity
// and never changes after creation.
type Account struct {
	ID              string
	Name            string
	Email           string
	PhoneNumber     string
	Bio             string
	ProfileImageURL string
	Birthday        *time.Time

	// Preferences holds free-form per-user settings; values are scalars
	// or lists of strings.
	Preferences map[string]any

	IsProfileActive bool
	IsDiscoverable  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RedactedAccount returns the minimal shape an account document is rewritten
// to when the user erases their data.
func RedactedAccount(id string, now time.Time) *Account {
	return &Account{
		ID:          id,
		Name:        "Deleted User",
		Preferences: map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Document serializes the account into the remote document shape.
func (a *Account) Document() remote.Document {
	return remote.Document{
		"id":              a.ID,
		"name":            a.Name,
		"email":           a.Email,
		"phoneNumber":     a.PhoneNumber,
		"bio":             a.Bio,
		"profileImageURL": a.ProfileImageURL,
		"birthday":        encodeTimeOpt(a.Birthday),
		"preferences":     a.Preferences,
		"isProfileActive": a.IsProfileActive,
		"isDiscoverable":  a.IsDiscoverable,
		"createdAt":       encodeTime(a.CreatedAt),
		"updatedAt":       encodeTime(a.UpdatedAt),
	}
}

// DecodeAccount builds an Account from a remote document. Required fields
// are id, createdAt, and updatedAt; any ill-typed field fails with
// common.ErrorDecode.
func DecodeAccount(doc remote.Document) (*Account, error) {
	var (
		a   Account
		err error
	)
	if a.ID, err = docString(doc, "id"); err != nil {
		return nil, err
	}
	if a.Name, err = docStringOpt(doc, "name"); err != nil {
		return nil, err
	}
	if a.Email, err = docStringOpt(doc, "email"); err != nil {
		return nil, err
	}
	if a.PhoneNumber, err = docStringOpt(doc, "phoneNumber"); err != nil {
		return nil, err
	}
	if a.Bio, err = docStringOpt(doc, "bio"); err != nil {
		return nil, err
	}
	if a.ProfileImageURL, err = docStringOpt(doc, "profileImageURL"); err != nil {
		return nil, err
	}
	if a.Birthday, err = docTimeOpt(doc, "birthday"); err != nil {
		return nil, err
	}
	if a.Preferences, err = docMapOpt(doc, "preferences"); err != nil {
		return nil, err
	}
	if a.IsProfileActive, err = docBoolOpt(doc, "isProfileActive"); err != nil {
		return nil, err
	}
	if a.IsDiscoverable, err = docBoolOpt(doc, "isDiscoverable"); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = docTime(doc, "createdAt"); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = docTime(doc, "updatedAt"); err != nil {
		return nil, err
	}
	return &a, nil
}

// Merge applies the remote version using last-write-wins: when the remote
// updatedAt is strictly newer, every mutable field is overwritten and true
// is returned. Ties and older versions leave the local value untouched.
func (a *Account) Merge(other *Account) bool {
	if !other.UpdatedAt.After(a.UpdatedAt) {
		return false
	}
	a.Name = other.Name
	a.Email = other.Email
	a.PhoneNumber = other.PhoneNumber
	a.Bio = other.Bio
	a.ProfileImageURL = other.ProfileImageURL
	a.Birthday = copyTimeOpt(other.Birthday)
	a.Preferences = make(map[string]any, len(other.Preferences))
	for k, v := range other.Preferences {
		a.Preferences[k] = v
	}
	a.IsProfileActive = other.IsProfileActive
	a.IsDiscoverable = other.IsDiscoverable
	a.UpdatedAt = other.UpdatedAt
	return true
}
