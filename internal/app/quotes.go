package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tessera/api/internal/store"
	"tessera/api/internal/util"
)

// validateQuoteRange enforces half-open bounds against the segment content
// and, when both bounds are set, that the addressed substring matches the
// supplied text after trimming. Offsets count Unicode code points, not
// bytes, so non-ASCII content addresses the characters a reader sees.
func validateQuoteRange(segment store.Segment, start, end *int, text string) error {
	if start == nil || end == nil {
		return nil
	}
	runes := []rune(segment.Content)
	length := len(runes)
	if *start < 0 || *start >= *end || *end > length {
		return invalidRange(*start, *end, length)
	}
	actual := string(runes[*start:*end])
	if strings.TrimSpace(actual) != strings.TrimSpace(text) {
		return textMismatch(strings.TrimSpace(text), strings.TrimSpace(actual))
	}
	return nil
}

// OverlappingQuotes returns every quote in the segment whose stored range
// intersects [start, end). Zero-length ranges never overlap anything.
func (s *Service) OverlappingQuotes(ctx context.Context, segmentID string, start, end int, userID string) ([]store.Quote, error) {
	if _, _, err := s.resolveSegment(ctx, s.store, segmentID, userID); err != nil {
		return nil, err
	}
	if start >= end {
		return []store.Quote{}, nil
	}
	return s.store.ListOverlappingQuotes(ctx, segmentID, start, end)
}

// findOrCreateQuote reuses a quote only on range-exact match: identical
// offsets and trimmed-equal text. Overlapping-but-different ranges always
// produce a distinct quote. Positionless quotes dedup on trimmed text
// within the segment instead, so re-running generated coding does not
// accumulate copies. A concurrent insert of the same range is resolved by
// re-fetching the winner.
func (s *Service) findOrCreateQuote(ctx context.Context, st store.Store, segment store.Segment, text string, start, end *int, userID string) (store.Quote, bool, error) {
	if err := validateQuoteRange(segment, start, end, text); err != nil {
		return store.Quote{}, false, err
	}

	if start == nil || end == nil {
		existing, err := st.FindPositionlessQuote(ctx, segment.ID, text)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Quote{}, false, fmt.Errorf("find positionless quote: %w", err)
		}
	}

	if start != nil && end != nil {
		candidates, err := st.ListOverlappingQuotes(ctx, segment.ID, *start, *end)
		if err != nil {
			return store.Quote{}, false, err
		}
		for _, candidate := range candidates {
			if candidate.StartChar == nil || candidate.EndChar == nil {
				continue
			}
			if *candidate.StartChar == *start && *candidate.EndChar == *end &&
				strings.TrimSpace(candidate.Text) == strings.TrimSpace(text) {
				return candidate, true, nil
			}
		}
	}

	created := store.Quote{
		ID:         util.NewID("qt"),
		SegmentID:  segment.ID,
		DocumentID: segment.DocumentID,
		Text:       text,
		StartChar:  start,
		EndChar:    end,
		CreatedBy:  userID,
	}
	if err := st.InsertQuote(ctx, created); err != nil {
		if store.IsUniqueViolation(err) && start != nil && end != nil {
			winner, ferr := st.GetQuoteByRange(ctx, segment.ID, *start, *end)
			if ferr != nil {
				return store.Quote{}, false, fmt.Errorf("refetch quote after conflict: %w", ferr)
			}
			return winner, true, nil
		}
		return store.Quote{}, false, err
	}
	return created, false, nil
}

type CreateQuoteInput struct {
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	StartChar *int   `json:"start_char"`
	EndChar   *int   `json:"end_char"`
}

func (s *Service) CreateQuote(ctx context.Context, input CreateQuoteInput, userID string) (store.Quote, bool, error) {
	if strings.TrimSpace(input.Text) == "" {
		return store.Quote{}, false, validationError("quote text is required")
	}
	segment, _, err := s.resolveSegment(ctx, s.store, input.SegmentID, userID)
	if err != nil {
		return store.Quote{}, false, err
	}
	var (
		quote       store.Quote
		wasExisting bool
	)
	err = s.store.WithTx(ctx, func(st store.Store) error {
		var err error
		quote, wasExisting, err = s.findOrCreateQuote(ctx, st, segment, input.Text, input.StartChar, input.EndChar, userID)
		return err
	})
	return quote, wasExisting, err
}

func (s *Service) GetQuote(ctx context.Context, quoteID, userID string) (store.Quote, error) {
	quote, _, _, err := s.resolveQuote(ctx, s.store, quoteID, userID)
	return quote, err
}

func (s *Service) DeleteQuote(ctx context.Context, quoteID, userID string) error {
	if _, _, _, err := s.resolveQuote(ctx, s.store, quoteID, userID); err != nil {
		return err
	}
	return s.store.DeleteQuote(ctx, quoteID)
}

func (s *Service) ListDocumentQuotes(ctx context.Context, documentID, userID string) ([]store.Quote, error) {
	document, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return []store.Quote{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	allowed, err := s.softProjectAccess(ctx, document.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Quote{}, nil
	}
	return s.store.ListDocumentQuotes(ctx, documentID)
}

// QuoteContext is a quote plus the surrounding segment text, for display
// without a second round trip.
type QuoteContext struct {
	Quote   store.Quote `json:"quote"`
	Before  string      `json:"before"`
	Matched string      `json:"matched"`
	After   string      `json:"after"`
}

// GetQuoteContext returns up to window characters of segment content on
// each side of the quote's range. Quotes without positions get the whole
// segment as "after" context.
func (s *Service) GetQuoteContext(ctx context.Context, quoteID string, window int, userID string) (QuoteContext, error) {
	quote, segment, _, err := s.resolveQuote(ctx, s.store, quoteID, userID)
	if err != nil {
		return QuoteContext{}, err
	}
	if window <= 0 {
		window = 80
	}
	result := QuoteContext{Quote: quote}
	if quote.StartChar == nil || quote.EndChar == nil {
		result.After = segment.Content
		return result, nil
	}
	runes := []rune(segment.Content)
	start, end := *quote.StartChar, *quote.EndChar
	if start > len(runes) {
		start = len(runes)
	}
	if end > len(runes) {
		end = len(runes)
	}
	beforeStart := start - window
	if beforeStart < 0 {
		beforeStart = 0
	}
	afterEnd := end + window
	if afterEnd > len(runes) {
		afterEnd = len(runes)
	}
	result.Before = string(runes[beforeStart:start])
	result.Matched = string(runes[start:end])
	result.After = string(runes[end:afterEnd])
	return result, nil
}
