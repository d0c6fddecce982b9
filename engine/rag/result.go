package rag

import (
	"github.com/BanglaVai/ticketrag/engine/domain"
	"github.com/BanglaVai/ticketrag/engine/semantic"
)

// Placeholders for fields missing from an indexed ticket.
const (
	unknownValue        = "unknown"
	missingSubject      = "No subject"
	missingDescription  = "No description"
	missingResolution   = "No resolution"
	missingCombinedText = "No text"
)

// SearchResult is one similar historical ticket. It is built per query and
// never stored.
type SearchResult struct {
	ID                   string  `json:"id"`
	SimilarityScore      float64 `json:"similarity_score"`
	TicketID             string  `json:"ticket_id"`
	CustomerName         string  `json:"customer_name"`
	CustomerEmail        string  `json:"customer_email"`
	Subject              string  `json:"subject"`
	Description          string  `json:"description"`
	TicketType           string  `json:"ticket_type"`
	Product              string  `json:"product"`
	Status               string  `json:"status"`
	Priority             string  `json:"priority"`
	Channel              string  `json:"channel"`
	Resolution           string  `json:"resolution"`
	CustomerSatisfaction string  `json:"customer_satisfaction"`
	CombinedText         string  `json:"combined_text"`
}

// similarity converts a cosine distance into a score in [0, 1]. Rounding can
// push the distance of an exact match slightly below zero.
func similarity(distance float32) float64 {
	return min(1, max(0, 1-float64(distance)))
}

func newSearchResult(m semantic.Match, score float64) SearchResult {
	get := func(key, fallback string) string {
		if v := m.Metadata[key]; v != "" {
			return v
		}
		return fallback
	}
	text := m.Document
	if text == "" {
		text = missingCombinedText
	}
	return SearchResult{
		ID:                   m.ID,
		SimilarityScore:      score,
		TicketID:             get(domain.MetaTicketID, unknownValue),
		CustomerName:         get(domain.MetaCustomerName, unknownValue),
		CustomerEmail:        get(domain.MetaCustomerEmail, unknownValue),
		Subject:              get(domain.MetaSubject, missingSubject),
		Description:          get(domain.MetaDescription, missingDescription),
		TicketType:           get(domain.MetaTicketType, unknownValue),
		Product:              get(domain.MetaProduct, unknownValue),
		Status:               get(domain.MetaStatus, unknownValue),
		Priority:             get(domain.MetaPriority, unknownValue),
		Channel:              get(domain.MetaChannel, unknownValue),
		Resolution:           get(domain.MetaResolution, missingResolution),
		CustomerSatisfaction: get(domain.MetaSatisfactionRating, ""),
		CombinedText:         text,
	}
}
