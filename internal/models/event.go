package models

import (
	"slices"
	"time"

	"github.com/kithapp/kith/internal/remote"
)

// EventCategory classifies a scheduled meetup.
type EventCategory string

const (
	EventCategoryCoffee   EventCategory = "coffee"
	EventCategoryMeal     EventCategory = "meal"
	EventCategoryActivity EventCategory = "activity"
	EventCategoryCall     EventCategory = "call"
	EventCategoryOther    EventCategory = "other"
)

// Event represents a scheduled meetup. Events are soft-deleted: normal sync
// never removes the remote record, it only flips IsDeleted.
type Event struct {
	ID       string
	Title    string
	Date     time.Time
	Location string
	Category EventCategory

	// Participants is an ordered list of account ids. Membership is
	// unique but the order carries no meaning.
	Participants []string

	Notes         string
	IsAIGenerated bool
	CreatorID     string
	IsDeleted     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasParticipant reports whether accountID takes part in the event.
func (e *Event) HasParticipant(accountID string) bool {
	return slices.Contains(e.Participants, accountID)
}

// Document serializes the event into the remote document shape.
func (e *Event) Document() remote.Document {
	participants := make([]any, len(e.Participants))
	for i, p := range e.Participants {
		participants[i] = p
	}
	return remote.Document{
		"id":            e.ID,
		"title":         e.Title,
		"date":          encodeTime(e.Date),
		"location":      e.Location,
		"category":      string(e.Category),
		"participants":  participants,
		"notes":         e.Notes,
		"isAiGenerated": e.IsAIGenerated,
		"creatorID":     e.CreatorID,
		"isDeleted":     e.IsDeleted,
		"createdAt":     encodeTime(e.CreatedAt),
		"updatedAt":     encodeTime(e.UpdatedAt),
	}
}

// DecodeEvent builds an Event from a remote document. Required fields:
// id, title, date, category, participants, creatorID, createdAt, updatedAt.
func DecodeEvent(doc remote.Document) (*Event, error) {
	var (
		e   Event
		err error
	)
	if e.ID, err = docString(doc, "id"); err != nil {
		return nil, err
	}
	if e.Title, err = docString(doc, "title"); err != nil {
		return nil, err
	}
	if e.Date, err = docTime(doc, "date"); err != nil {
		return nil, err
	}
	if e.Location, err = docStringOpt(doc, "location"); err != nil {
		return nil, err
	}
	cat, err := docString(doc, "category")
	if err != nil {
		return nil, err
	}
	e.Category = EventCategory(cat)
	if e.Participants, err = docStrings(doc, "participants"); err != nil {
		return nil, err
	}
	if e.Notes, err = docStringOpt(doc, "notes"); err != nil {
		return nil, err
	}
	if e.IsAIGenerated, err = docBoolOpt(doc, "isAiGenerated"); err != nil {
		return nil, err
	}
	if e.CreatorID, err = docString(doc, "creatorID"); err != nil {
		return nil, err
	}
	if e.IsDeleted, err = docBoolOpt(doc, "isDeleted"); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = docTime(doc, "createdAt"); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = docTime(doc, "updatedAt"); err != nil {
		return nil, err
	}
	return &e, nil
}

// Merge applies the remote version using last-write-wins, including the
// soft-delete flag, so a deletion performed elsewhere is absorbed.
func (e *Event) Merge(other *Event) bool {
	if !other.UpdatedAt.After(e.UpdatedAt) {
		return false
	}
	e.Title = other.Title
	e.Date = other.Date
	e.Location = other.Location
	e.Category = other.Category
	e.Participants = slices.Clone(other.Participants)
	e.Notes = other.Notes
	e.IsAIGenerated = other.IsAIGenerated
	e.IsDeleted = other.IsDeleted
	e.UpdatedAt = other.UpdatedAt
	return true
}
