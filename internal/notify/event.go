package notify

import (
	"time"

	"github.com/supportdesk/orchestrator/internal/ticket"
)

// Event is the tagged union of notification-worthy domain events. Each
// kind carries its own fixed field set; there are no loose payloads.
type Event interface{ isEvent() }

type MessageAdded struct {
	Ticket  *ticket.Ticket
	Message *ticket.Message
}

type TicketOpened struct {
	Ticket *ticket.Ticket
}

type TicketEscalated struct {
	Ticket *ticket.Ticket
	Reason string
}

type AppointmentScheduled struct {
	Appointment Appointment
}

func (MessageAdded) isEvent()         {}
func (TicketOpened) isEvent()         {}
func (TicketEscalated) isEvent()      {}
func (AppointmentScheduled) isEvent() {}

type Appointment struct {
	ID               string
	TicketID         string
	Title            string
	ClientID         string
	PartnerContactID string
	StartsAt         time.Time
}
