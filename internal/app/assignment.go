package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"tessera/api/internal/store"
)

type AssignQuoteCodeInput struct {
	DocumentID      string `json:"document_id"`
	SegmentID       string `json:"segment_id"`
	Text            string `json:"text"`
	StartChar       *int   `json:"start_char"`
	EndChar         *int   `json:"end_char"`
	CodeName        string `json:"code_name"`
	CodeDescription string `json:"code_description"`
	CodeColor       string `json:"code_color"`
	AutoGenerated   bool   `json:"-"`
}

type AssignSegmentCodeInput struct {
	SegmentID       string `json:"segment_id"`
	CodeName        string `json:"code_name"`
	CodeDescription string `json:"code_description"`
	CodeColor       string `json:"code_color"`
	AutoGenerated   bool   `json:"-"`
}

// AssignmentResult reports, per entity, whether the call reused an
// existing row, so callers can tell dedup hits from fresh creation.
type AssignmentResult struct {
	Quote              *store.Quote `json:"quote,omitempty"`
	QuoteWasExisting   bool         `json:"quote_was_existing"`
	Code               store.Code   `json:"code"`
	CodeWasExisting    bool         `json:"code_was_existing"`
	QuoteNewlyLinked   bool         `json:"quote_newly_linked"`
	SegmentNewlyLinked bool         `json:"segment_newly_linked"`
}

// AssignQuoteAndCode is the "select text, type a code name" action: one
// atomic find-or-create for the quote, one for the code, then idempotent
// links to both the quote and its segment. Repeating the identical call
// converges on the same quote and code ids.
func (s *Service) AssignQuoteAndCode(ctx context.Context, input AssignQuoteCodeInput, userID string) (AssignmentResult, error) {
	if strings.TrimSpace(input.Text) == "" {
		return AssignmentResult{}, validationError("quote text is required")
	}
	if strings.TrimSpace(input.CodeName) == "" {
		return AssignmentResult{}, validationError("code name is required")
	}

	document, err := s.resolveDocument(ctx, s.store, input.DocumentID, userID)
	if err != nil {
		return AssignmentResult{}, err
	}
	segment, _, err := s.resolveSegment(ctx, s.store, input.SegmentID, userID)
	if err != nil {
		return AssignmentResult{}, err
	}
	if segment.DocumentID != document.ID {
		return AssignmentResult{}, notFound("segment", input.SegmentID)
	}

	var result AssignmentResult
	err = s.store.WithTx(ctx, func(st store.Store) error {
		quote, quoteExisting, err := s.findOrCreateQuote(ctx, st, segment, input.Text, input.StartChar, input.EndChar, userID)
		if err != nil {
			return err
		}
		code, codeExisting, err := s.findOrCreateCode(ctx, st, document.ProjectID, input.CodeName, userID, codeDefaults{
			description:   input.CodeDescription,
			color:         input.CodeColor,
			autoGenerated: input.AutoGenerated,
		})
		if err != nil {
			return err
		}
		quoteLinked, err := st.LinkQuoteCode(ctx, quote.ID, code.ID)
		if err != nil {
			return err
		}
		segmentLinked, err := st.LinkSegmentCode(ctx, segment.ID, code.ID)
		if err != nil {
			return err
		}
		result = AssignmentResult{
			Quote:              &quote,
			QuoteWasExisting:   quoteExisting,
			Code:               code,
			CodeWasExisting:    codeExisting,
			QuoteNewlyLinked:   quoteLinked,
			SegmentNewlyLinked: segmentLinked,
		}
		return nil
	})
	if err != nil {
		return AssignmentResult{}, err
	}

	s.log.Info().
		Str("quote_id", result.Quote.ID).
		Str("code_id", result.Code.ID).
		Bool("quote_was_existing", result.QuoteWasExisting).
		Bool("code_was_existing", result.CodeWasExisting).
		Msg("assigned quote and code")
	return result, nil
}

// AssignCodeToSegment links a find-or-create code straight to a segment,
// with no quote involved.
func (s *Service) AssignCodeToSegment(ctx context.Context, input AssignSegmentCodeInput, userID string) (AssignmentResult, error) {
	if strings.TrimSpace(input.CodeName) == "" {
		return AssignmentResult{}, validationError("code name is required")
	}
	_, document, err := s.resolveSegment(ctx, s.store, input.SegmentID, userID)
	if err != nil {
		return AssignmentResult{}, err
	}

	var result AssignmentResult
	err = s.store.WithTx(ctx, func(st store.Store) error {
		code, codeExisting, err := s.findOrCreateCode(ctx, st, document.ProjectID, input.CodeName, userID, codeDefaults{
			description:   input.CodeDescription,
			color:         input.CodeColor,
			autoGenerated: input.AutoGenerated,
		})
		if err != nil {
			return err
		}
		segmentLinked, err := st.LinkSegmentCode(ctx, input.SegmentID, code.ID)
		if err != nil {
			return err
		}
		result = AssignmentResult{
			Code:               code,
			CodeWasExisting:    codeExisting,
			SegmentNewlyLinked: segmentLinked,
		}
		return nil
	})
	return result, err
}

// GeneratedCodingResult pairs the model's reasoning with the assignment
// outcome it produced.
type GeneratedCodingResult struct {
	Reasoning  string           `json:"reasoning"`
	Assignment AssignmentResult `json:"assignment"`
}

// ApplyGeneratedCoding asks the configured coder for a code/quote pair for
// the segment and applies it through the orchestrator. The proposed quote
// is located as a substring of the segment content, first occurrence; if
// the model returns text not present in the segment, the quote is stored
// without positions rather than rejected.
func (s *Service) ApplyGeneratedCoding(ctx context.Context, segmentID, userID string) (GeneratedCodingResult, error) {
	if s.coder == nil {
		return GeneratedCodingResult{}, domainError(501, "CODER_UNAVAILABLE", "no generative coder is configured", nil)
	}
	segment, document, err := s.resolveSegment(ctx, s.store, segmentID, userID)
	if err != nil {
		return GeneratedCodingResult{}, err
	}

	suggestion, err := s.coder.SuggestCoding(ctx, segment.Content)
	if err != nil {
		return GeneratedCodingResult{}, domainError(502, "CODER_FAILED", "generative coder call failed", err.Error())
	}
	if strings.TrimSpace(suggestion.Code) == "" || strings.TrimSpace(suggestion.Quote) == "" {
		return GeneratedCodingResult{}, validationError("coder returned an empty code or quote")
	}

	quoteText := suggestion.Quote
	var startChar, endChar *int
	if byteStart := strings.Index(segment.Content, quoteText); byteStart >= 0 {
		start := utf8.RuneCountInString(segment.Content[:byteStart])
		end := start + utf8.RuneCountInString(quoteText)
		startChar, endChar = &start, &end
	}

	assignment, err := s.AssignQuoteAndCode(ctx, AssignQuoteCodeInput{
		DocumentID:      document.ID,
		SegmentID:       segment.ID,
		Text:            quoteText,
		StartChar:       startChar,
		EndChar:         endChar,
		CodeName:        suggestion.Code,
		CodeDescription: suggestion.CodeDescription,
		AutoGenerated:   true,
	}, userID)
	if err != nil {
		return GeneratedCodingResult{}, err
	}
	return GeneratedCodingResult{Reasoning: suggestion.Reasoning, Assignment: assignment}, nil
}
