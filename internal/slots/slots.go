package slots

import (
	"context"
	"time"
)

const (
	KindStandard = "standard"
	KindExpress  = "express"
)

type Slot struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"` // HH:MM, store local time
	EndTime     string    `json:"end_time"`
	Kind        string    `json:"type"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Available   bool      `json:"available"`
	Active      bool      `json:"-"`
}

// Open reports the derived availability.
func (s Slot) Open() bool { return s.Active && s.BookedCount < s.Capacity }

type Repository interface {
	Slot(ctx context.Context, id string) (Slot, error)

	// ListAvailable returns active slots on date with spare capacity. Empty kind matches all.
	ListAvailable(ctx context.Context, date time.Time, kind string) ([]Slot, error)

	// ReserveSlot increments booked_count only while booked_count < capacity and refreshes
	// the availability flag in the same write. It also records that orderID holds the booking.
	ReserveSlot(ctx context.Context, slotID, orderID string) (bool, error)

	// ReleaseSlot gives back orderID's booking at most once; booked_count never drops below 0.
	ReleaseSlot(ctx context.Context, orderID string) (bool, error)
}

func ValidKind(kind string) bool {
	return kind == "" || kind == KindStandard || kind == KindExpress
}
