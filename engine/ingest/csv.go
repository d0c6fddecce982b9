package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BanglaVai/ticketrag/engine/domain"
)

// Corpus column headers.
const (
	ColTicketID      = "Ticket ID"
	ColCustomerName  = "Customer Name"
	ColCustomerEmail = "Customer Email"
	ColSubject       = "Ticket Subject"
	ColDescription   = "Ticket Description"
	ColTicketType    = "Ticket Type"
	ColProduct       = "Product Purchased"
	ColStatus        = "Ticket Status"
	ColPriority      = "Ticket Priority"
	ColChannel       = "Ticket Channel"
	ColResolution    = "Resolution"
	ColSatisfaction  = "Customer Satisfaction Rating"
)

var requiredColumns = []string{ColTicketID, ColSubject, ColDescription}

// Corpus is the cleaned content of one CSV file.
type Corpus struct {
	Tickets []domain.Ticket
	// Dropped counts rows removed for a blank id, subject or description,
	// and rows repeating an earlier ticket id.
	Dropped int
}

// ReadCorpus opens and parses the CSV at path. A missing file yields a
// *domain.SourceError wrapping domain.ErrSourceNotFound.
func ReadCorpus(path string) (Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Corpus{}, domain.NewSourceError(path, domain.ErrSourceNotFound)
		}
		return Corpus{}, domain.NewSourceError(path, err)
	}
	defer f.Close()

	c, err := ParseCorpus(f)
	if err != nil {
		return Corpus{}, domain.NewSourceError(path, err)
	}
	return c, nil
}

// ParseCorpus reads a ticket CSV. The header row must name the ticket id,
// subject and description columns; any other known column may be absent and
// reads as "". Unknown columns are ignored.
func ParseCorpus(r io.Reader) (Corpus, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Corpus{}, fmt.Errorf("ingest: empty corpus: %w", domain.ErrMissingColumn)
		}
		return Corpus{}, fmt.Errorf("ingest: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[strings.TrimSpace(h)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return Corpus{}, fmt.Errorf("ingest: column %q: %w", name, domain.ErrMissingColumn)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var c Corpus
	seen := make(map[string]struct{})
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Corpus{}, fmt.Errorf("ingest: read row: %w", err)
		}
		t := domain.Ticket{
			TicketID:           field(row, ColTicketID),
			CustomerName:       field(row, ColCustomerName),
			CustomerEmail:      field(row, ColCustomerEmail),
			Subject:            field(row, ColSubject),
			Description:        field(row, ColDescription),
			TicketType:         field(row, ColTicketType),
			Product:            field(row, ColProduct),
			Status:             field(row, ColStatus),
			Priority:           field(row, ColPriority),
			Channel:            field(row, ColChannel),
			Resolution:         field(row, ColResolution),
			SatisfactionRating: field(row, ColSatisfaction),
		}
		if err := domain.ValidateTicket(t); err != nil {
			c.Dropped++
			continue
		}
		// The first row for an id wins.
		if _, dup := seen[t.TicketID]; dup {
			c.Dropped++
			continue
		}
		seen[t.TicketID] = struct{}{}
		c.Tickets = append(c.Tickets, t)
	}
	return c, nil
}
