package models

import (
	"time"

	"github.com/kithapp/kith/internal/keyx"
	"github.com/kithapp/kith/internal/remote"
)

// RelationshipType classifies a relationship.
type RelationshipType string

const (
	RelationshipFriend       RelationshipType = "friend"
	RelationshipPending      RelationshipType = "pending"
	RelationshipFamily       RelationshipType = "family"
	RelationshipColleague    RelationshipType = "colleague"
	RelationshipAcquaintance RelationshipType = "acquaintance"
)

// Relationship is a directed-but-symmetrized link between two accounts.
//
// The synthetic ID is opaque and globally unique; the remote storage
// address is the canonical pair key of the two participants, so a
// relationship resolves to the same remote record from either side.
type Relationship struct {
	ID            string
	OwnerID       string
	CounterpartID string
	Type          RelationshipType
	IsFavorite    bool

	LastInteractionDate *time.Time
	NextScheduledDate   *time.Time
	CustomNotes         string
	LastContactedDate   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalID returns the order-independent remote address of the record.
func (r *Relationship) CanonicalID() string {
	return keyx.PairKey(r.OwnerID, r.CounterpartID)
}

// Involves reports whether accountID is one of the two participants.
func (r *Relationship) Involves(accountID string) bool {
	return r.OwnerID == accountID || r.CounterpartID == accountID
}

// Document serializes the relationship into the remote document shape.
func (r *Relationship) Document() remote.Document {
	return remote.Document{
		"id":                  r.ID,
		"ownerID":             r.OwnerID,
		"counterpartID":       r.CounterpartID,
		"relationshipType":    string(r.Type),
		"isFavorite":          r.IsFavorite,
		"lastInteractionDate": encodeTimeOpt(r.LastInteractionDate),
		"nextScheduledDate":   encodeTimeOpt(r.NextScheduledDate),
		"customNotes":         r.CustomNotes,
		"lastContactedDate":   encodeTimeOpt(r.LastContactedDate),
		"createdAt":           encodeTime(r.CreatedAt),
		"updatedAt":           encodeTime(r.UpdatedAt),
	}
}

// DecodeRelationship builds a Relationship from a remote document.
// Required fields: id, ownerID, counterpartID, relationshipType,
// createdAt, updatedAt.
func DecodeRelationship(doc remote.Document) (*Relationship, error) {
	var (
		r   Relationship
		err error
	)
	if r.ID, err = docString(doc, "id"); err != nil {
		return nil, err
	}
	if r.OwnerID, err = docString(doc, "ownerID"); err != nil {
		return nil, err
	}
	if r.CounterpartID, err = docString(doc, "counterpartID"); err != nil {
		return nil, err
	}
	typ, err := docString(doc, "relationshipType")
	if err != nil {
		return nil, err
	}
	r.Type = RelationshipType(typ)
	if r.IsFavorite, err = docBoolOpt(doc, "isFavorite"); err != nil {
		return nil, err
	}
	if r.LastInteractionDate, err = docTimeOpt(doc, "lastInteractionDate"); err != nil {
		return nil, err
	}
	if r.NextScheduledDate, err = docTimeOpt(doc, "nextScheduledDate"); err != nil {
		return nil, err
	}
	if r.CustomNotes, err = docStringOpt(doc, "customNotes"); err != nil {
		return nil, err
	}
	if r.LastContactedDate, err = docTimeOpt(doc, "lastContactedDate"); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = docTime(doc, "createdAt"); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = docTime(doc, "updatedAt"); err != nil {
		return nil, err
	}
	return &r, nil
}

// Merge applies the remote version using last-write-wins. Participant ids
// are part of the canonical address and are not merged.
func (r *Relationship) Merge(other *Relationship) bool {
	if !other.UpdatedAt.After(r.UpdatedAt) {
		return false
	}
	r.Type = other.Type
	r.IsFavorite = other.IsFavorite
	r.LastInteractionDate = copyTimeOpt(other.LastInteractionDate)
	r.NextScheduledDate = copyTimeOpt(other.NextScheduledDate)
	r.CustomNotes = other.CustomNotes
	r.LastContactedDate = copyTimeOpt(other.LastContactedDate)
	r.UpdatedAt = other.UpdatedAt
	return true
}
