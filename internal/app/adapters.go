package app

import (
	"context"
	"errors"
	"log"

	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/storage"
)

// contactProfiles resolves partners from the contact table. Contacts
// without an uploaded avatar get an initials image.
type contactProfiles struct {
	db    *storage.DB
	blobs *avatar.Blobs
}

func (p contactProfiles) Profile(_ context.Context, id string) (call.Profile, error) {
	c, err := p.db.GetContact(id)
	if errors.Is(err, storage.ErrNotFound) {
		c = storage.Contact{ID: id, Name: id}
	} else if err != nil {
		return call.Profile{}, err
	}
	if c.Name == "" {
		c.Name = id
	}
	prof := call.Profile{ID: c.ID, Name: c.Name, AvatarURL: c.AvatarURL}
	if prof.AvatarURL == "" && p.blobs != nil {
		url, err := p.blobs.Put(avatar.InitialsSVG(c.Name, c.ID))
		if err != nil {
			log.Printf("CALL: initials avatar for %s: %v", id, err)
		} else {
			prof.AvatarURL = url
		}
	}
	return prof, nil
}

// callHistory appends ended calls to the call log table.
type callHistory struct {
	db *storage.DB
}

func (h callHistory) RecordCall(_ context.Context, r call.Record) error {
	e := storage.CallEntry{
		ID:          r.ID,
		PartnerID:   r.Partner.ID,
		PartnerName: r.Partner.Name,
		Direction:   storage.DirectionOutgoing,
		Type:        string(r.Type),
		Outcome:     r.Outcome,
		Reason:      string(r.Reason),
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
	if r.Incoming {
		e.Direction = storage.DirectionIncoming
	}
	if !r.ConnectedAt.IsZero() {
		t := r.ConnectedAt
		e.ConnectedAt = &t
	}
	return h.db.AppendCall(e)
}
