package domain

import "time"

// EventType names a state transition the engine broadcasts.
type EventType string

const (
	EventItemListed    EventType = "item_listed"
	EventItemRelisted  EventType = "item_relisted"
	EventItemCanceled  EventType = "item_canceled"
	EventItemSold      EventType = "item_sold"
	EventOrderMade     EventType = "order_made"
	EventOrderUpdated  EventType = "order_updated"
	EventOrderAccepted EventType = "order_accepted"
	EventOrderCanceled EventType = "order_canceled"
	EventRootRotated   EventType = "whitelist_root_rotated"
)

// Event is one engine state transition, fanned out to the signal bus, the
// journal, the websocket hub, and notifiers after the originating call has
// committed.
type Event struct {
	Type       EventType
	At         time.Time
	Detail     map[string]any
	Settlement *Settlement // non-nil for item_sold / order_accepted
}
