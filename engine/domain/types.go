// Package domain defines the ticket data model and the error taxonomy shared
// by the indexing and search pipeline. It acts as the validation gate for
// rows entering the index.
package domain

import "strings"

// DefaultCollection is the collection the ticket corpus is indexed into.
const DefaultCollection = "customer_support_tickets"

// DocumentIDPrefix is prepended to a ticket id to form its index document id.
const DocumentIDPrefix = "ticket_"

// Metadata keys stored alongside every indexed ticket.
const (
	MetaTicketID           = "ticket_id"
	MetaCustomerName       = "customer_name"
	MetaCustomerEmail      = "customer_email"
	MetaSubject            = "subject"
	MetaDescription        = "description"
	MetaTicketType         = "ticket_type"
	MetaProduct            = "product"
	MetaStatus             = "status"
	MetaPriority           = "priority"
	MetaChannel            = "channel"
	MetaResolution         = "resolution"
	MetaSatisfactionRating = "satisfaction_rating"
)

// Ticket is one historical support ticket read from the corpus.
type Ticket struct {
	TicketID           string `json:"ticket_id"`
	CustomerName       string `json:"customer_name"`
	CustomerEmail      string `json:"customer_email"`
	Subject            string `json:"subject"`
	Description        string `json:"description"`
	TicketType         string `json:"ticket_type"`
	Product            string `json:"product"`
	Status             string `json:"status"`
	Priority           string `json:"priority"`
	Channel            string `json:"channel"`
	Resolution         string `json:"resolution,omitempty"`
	SatisfactionRating string `json:"satisfaction_rating,omitempty"`
}

// DocumentID returns the id under which the ticket is stored in the index.
func (t Ticket) DocumentID() string {
	return DocumentIDPrefix + t.TicketID
}

// DocumentText is the embedding input for the ticket: subject, description,
// type and product joined by single spaces. Empty fields stay in place as
// empty strings so the field order is the same for every ticket.
func (t Ticket) DocumentText() string {
	return strings.Join([]string{t.Subject, t.Description, t.TicketType, t.Product}, " ")
}

// Metadata flattens the ticket into the string map persisted with its
// embedding.
func (t Ticket) Metadata() map[string]string {
	return map[string]string{
		MetaTicketID:           t.TicketID,
		MetaCustomerName:       t.CustomerName,
		MetaCustomerEmail:      t.CustomerEmail,
		MetaSubject:            t.Subject,
		MetaDescription:        t.Description,
		MetaTicketType:         t.TicketType,
		MetaProduct:            t.Product,
		MetaStatus:             t.Status,
		MetaPriority:           t.Priority,
		MetaChannel:            t.Channel,
		MetaResolution:         t.Resolution,
		MetaSatisfactionRating: t.SatisfactionRating,
	}
}
