package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AnnouncementEventName is the stream event name used on the announcements
// topic.
const AnnouncementEventName = "announcement"

var ErrEmptyMessage = errors.New("announcement message must not be empty")

// AnnouncementKind is the kind of announcement being made.
type AnnouncementKind string

const (
	KindInformational AnnouncementKind = "Informational"
	KindMaintenance   AnnouncementKind = "Maintenance"
	KindCritical      AnnouncementKind = "Critical"
	KindMiscellaneous AnnouncementKind = "Miscellaneous"
)

var announcementKinds = []AnnouncementKind{KindInformational, KindMaintenance, KindCritical, KindMiscellaneous}

// UnmarshalText accepts the kind names case insensitively.
func (k *AnnouncementKind) UnmarshalText(text []byte) error {
	for _, known := range announcementKinds {
		if strings.EqualFold(string(known), string(text)) {
			*k = known
			return nil
		}
	}
	return fmt.Errorf("unknown announcement kind %q", text)
}

// AnnouncementCause is what triggered an announcement.
type AnnouncementCause string

const (
	CauseManual    AnnouncementCause = "Manual"
	CauseAutomatic AnnouncementCause = "Automatic"
	CauseScheduled AnnouncementCause = "Scheduled"
)

var announcementCauses = []AnnouncementCause{CauseManual, CauseAutomatic, CauseScheduled}

// UnmarshalText accepts the cause names case insensitively.
func (c *AnnouncementCause) UnmarshalText(text []byte) error {
	for _, known := range announcementCauses {
		if strings.EqualFold(string(known), string(text)) {
			*c = known
			return nil
		}
	}
	return fmt.Errorf("unknown announcement cause %q", text)
}

// Announcement is an operator message relayed to every connected client.
type Announcement struct {
	ID      uuid.UUID         `json:"id"`
	Message string            `json:"message"`
	Kind    AnnouncementKind  `json:"kind"`
	Cause   AnnouncementCause `json:"cause"`
	// Channel optionally lets clients filter announcements.
	Channel string `json:"channel,omitempty"`
}

// Prepare assigns a fresh id when none was given and rejects blank messages.
func (a *Announcement) Prepare() error {
	if strings.TrimSpace(a.Message) == "" {
		return ErrEmptyMessage
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Kind == "" {
		a.Kind = KindInformational
	}
	if a.Cause == "" {
		a.Cause = CauseManual
	}
	return nil
}
