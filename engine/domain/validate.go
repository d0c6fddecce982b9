package domain

import "strings"

// ValidateTicket checks that a ticket can be embedded. Id, subject and
// description are mandatory; everything else may be blank.
func ValidateTicket(t Ticket) error {
	if strings.TrimSpace(t.TicketID) == "" {
		return NewValidationError(t.TicketID, "ticket_id", ErrEmptyTicketID)
	}
	if strings.TrimSpace(t.Subject) == "" {
		return NewValidationError(t.TicketID, "subject", ErrEmptySubject)
	}
	if strings.TrimSpace(t.Description) == "" {
		return NewValidationError(t.TicketID, "description", ErrEmptyDescription)
	}
	return nil
}
