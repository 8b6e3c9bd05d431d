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

var annotationTypes = map[string]bool{
	"MEMO":     true,
	"COMMENT":  true,
	"QUESTION": true,
	"INSIGHT":  true,
	"TODO":     true,
}

type CreateAnnotationInput struct {
	Content    string  `json:"content"`
	Type       string  `json:"annotation_type"`
	QuoteID    *string `json:"quote_id"`
	SegmentID  *string `json:"segment_id"`
	DocumentID *string `json:"document_id"`
	CodeID     *string `json:"code_id"`
}

// annotationTarget is the resolved primary target plus the project it
// belongs to. Exactly one primary field is kept; the rest are discarded
// before persisting.
type annotationTarget struct {
	projectID  string
	quoteID    *string
	segmentID  *string
	documentID *string
}

// resolveAnnotationTarget picks the primary target with quote > segment >
// document precedence and derives the owning project by walking that
// target. A lone code id is accepted and derives through the code.
// Supplying targets from several projects is not an error; the highest-
// precedence one wins and the others are dropped.
func (s *Service) resolveAnnotationTarget(ctx context.Context, st store.Store, input CreateAnnotationInput, userID string) (annotationTarget, error) {
	switch {
	case input.QuoteID != nil:
		quote, _, document, err := s.resolveQuote(ctx, st, *input.QuoteID, userID)
		if err != nil {
			return annotationTarget{}, err
		}
		return annotationTarget{projectID: document.ProjectID, quoteID: &quote.ID}, nil
	case input.SegmentID != nil:
		segment, document, err := s.resolveSegment(ctx, st, *input.SegmentID, userID)
		if err != nil {
			return annotationTarget{}, err
		}
		return annotationTarget{projectID: document.ProjectID, segmentID: &segment.ID}, nil
	case input.DocumentID != nil:
		document, err := s.resolveDocument(ctx, st, *input.DocumentID, userID)
		if err != nil {
			return annotationTarget{}, err
		}
		return annotationTarget{projectID: document.ProjectID, documentID: &document.ID}, nil
	case input.CodeID != nil:
		code, err := s.resolveCode(ctx, st, *input.CodeID, userID)
		if err != nil {
			return annotationTarget{}, err
		}
		return annotationTarget{projectID: code.ProjectID}, nil
	default:
		return annotationTarget{}, noTarget()
	}
}

func (s *Service) CreateAnnotation(ctx context.Context, input CreateAnnotationInput, userID string) (store.Annotation, error) {
	if strings.TrimSpace(input.Content) == "" {
		return store.Annotation{}, validationError("annotation content is required")
	}
	annotationType := input.Type
	if annotationType == "" {
		annotationType = "MEMO"
	}
	if !annotationTypes[annotationType] {
		return store.Annotation{}, validationError(fmt.Sprintf("unknown annotation type %q", annotationType))
	}

	var created store.Annotation
	err := s.store.WithTx(ctx, func(st store.Store) error {
		target, err := s.resolveAnnotationTarget(ctx, st, input, userID)
		if err != nil {
			return err
		}
		// The secondary code target is validated in its own right but does
		// not participate in project derivation unless it is the only target.
		if input.CodeID != nil {
			if _, err := s.resolveCode(ctx, st, *input.CodeID, userID); err != nil {
				return err
			}
		}
		created = store.Annotation{
			ID:         util.NewID("ann"),
			Content:    input.Content,
			Type:       annotationType,
			QuoteID:    target.quoteID,
			SegmentID:  target.segmentID,
			DocumentID: target.documentID,
			CodeID:     input.CodeID,
			ProjectID:  target.projectID,
			CreatedBy:  userID,
		}
		return st.InsertAnnotation(ctx, created)
	})
	if err != nil {
		return store.Annotation{}, err
	}
	return s.store.GetAnnotation(ctx, created.ID)
}

// getAnnotationChecked re-checks access on the annotation's own project on
// every call, so accessibility tracks the current collaborator set.
func (s *Service) getAnnotationChecked(ctx context.Context, annotationID, userID string) (store.Annotation, error) {
	annotation, err := s.store.GetAnnotation(ctx, annotationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Annotation{}, notFound("annotation", annotationID)
	}
	if err != nil {
		return store.Annotation{}, fmt.Errorf("get annotation: %w", err)
	}
	isMember, err := s.projectMember(ctx, s.store, annotation.ProjectID, userID)
	if err != nil {
		return store.Annotation{}, err
	}
	if !isMember {
		return store.Annotation{}, forbidden("annotation", annotationID)
	}
	return annotation, nil
}

func (s *Service) GetAnnotation(ctx context.Context, annotationID, userID string) (store.Annotation, error) {
	return s.getAnnotationChecked(ctx, annotationID, userID)
}

type UpdateAnnotationInput struct {
	Content *string `json:"content"`
	Type    *string `json:"annotation_type"`
}

func (s *Service) UpdateAnnotation(ctx context.Context, annotationID string, input UpdateAnnotationInput, userID string) (store.Annotation, error) {
	if _, err := s.getAnnotationChecked(ctx, annotationID, userID); err != nil {
		return store.Annotation{}, err
	}
	content := ""
	if input.Content != nil {
		if strings.TrimSpace(*input.Content) == "" {
			return store.Annotation{}, validationError("annotation content is required")
		}
		content = *input.Content
	}
	annotationType := ""
	if input.Type != nil {
		if !annotationTypes[*input.Type] {
			return store.Annotation{}, validationError(fmt.Sprintf("unknown annotation type %q", *input.Type))
		}
		annotationType = *input.Type
	}
	if err := s.store.UpdateAnnotation(ctx, annotationID, content, annotationType); err != nil {
		return store.Annotation{}, err
	}
	return s.store.GetAnnotation(ctx, annotationID)
}

func (s *Service) DeleteAnnotation(ctx context.Context, annotationID, userID string) error {
	if _, err := s.getAnnotationChecked(ctx, annotationID, userID); err != nil {
		return err
	}
	return s.store.DeleteAnnotation(ctx, annotationID)
}

func (s *Service) ListQuoteAnnotations(ctx context.Context, quoteID, userID string) ([]store.Annotation, error) {
	if _, _, _, err := s.resolveQuote(ctx, s.store, quoteID, userID); err != nil {
		var derr *DomainError
		if errors.As(err, &derr) {
			return []store.Annotation{}, nil
		}
		return nil, err
	}
	return s.store.ListQuoteAnnotations(ctx, quoteID)
}

func (s *Service) ListSegmentAnnotations(ctx context.Context, segmentID, userID string) ([]store.Annotation, error) {
	if _, _, err := s.resolveSegment(ctx, s.store, segmentID, userID); err != nil {
		var derr *DomainError
		if errors.As(err, &derr) {
			return []store.Annotation{}, nil
		}
		return nil, err
	}
	return s.store.ListSegmentAnnotations(ctx, segmentID)
}

type ListAnnotationsFilter struct {
	Type      string
	CreatedBy string
}

func (s *Service) ListProjectAnnotations(ctx context.Context, projectID string, filter ListAnnotationsFilter, userID string) ([]store.Annotation, error) {
	allowed, err := s.softProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Annotation{}, nil
	}
	return s.store.ListProjectAnnotations(ctx, projectID, filter.Type, filter.CreatedBy)
}

type SmartAnnotationInput struct {
	Content        string  `json:"content"`
	Type           string  `json:"annotation_type"`
	ProjectID      string  `json:"project_id"`
	DocumentID     *string `json:"document_id"`
	SegmentID      *string `json:"segment_id"`
	QuoteText      *string `json:"quote_text"`
	QuoteStartChar *int    `json:"quote_start_char"`
	QuoteEndChar   *int    `json:"quote_end_char"`
	CodeID         *string `json:"code_id"`
}

// CreateAnnotationWithOptionalQuote materializes a quote from text before
// annotating it. When quote_text is given without a segment, the
// document's first segment takes the quote. The resulting annotation
// targets the quote if one was obtained, else the segment, else the
// document; project_id comes from that walk, never from the caller.
func (s *Service) CreateAnnotationWithOptionalQuote(ctx context.Context, input SmartAnnotationInput, userID string) (store.Annotation, error) {
	if _, err := s.resolveProject(ctx, s.store, input.ProjectID, userID); err != nil {
		return store.Annotation{}, err
	}

	var created store.Annotation
	err := s.store.WithTx(ctx, func(st store.Store) error {
		target := CreateAnnotationInput{
			Content:    input.Content,
			Type:       input.Type,
			SegmentID:  input.SegmentID,
			DocumentID: input.DocumentID,
			CodeID:     input.CodeID,
		}

		if input.QuoteText != nil && strings.TrimSpace(*input.QuoteText) != "" && input.DocumentID != nil {
			var segment store.Segment
			if input.SegmentID != nil {
				var err error
				segment, _, err = s.resolveSegment(ctx, st, *input.SegmentID, userID)
				if err != nil {
					return err
				}
			} else {
				var err error
				segment, err = st.FirstDocumentSegment(ctx, *input.DocumentID)
				if errors.Is(err, sql.ErrNoRows) {
					return notFound("segment for document", *input.DocumentID)
				}
				if err != nil {
					return fmt.Errorf("first segment: %w", err)
				}
			}
			quote, _, err := s.findOrCreateQuote(ctx, st, segment, *input.QuoteText, input.QuoteStartChar, input.QuoteEndChar, userID)
			if err != nil {
				return err
			}
			target.QuoteID = &quote.ID
		}

		resolved, err := s.resolveAnnotationTarget(ctx, st, target, userID)
		if err != nil {
			return err
		}
		if input.CodeID != nil {
			if _, err := s.resolveCode(ctx, st, *input.CodeID, userID); err != nil {
				return err
			}
		}

		annotationType := input.Type
		if annotationType == "" {
			annotationType = "MEMO"
		}
		if !annotationTypes[annotationType] {
			return validationError(fmt.Sprintf("unknown annotation type %q", annotationType))
		}
		if strings.TrimSpace(input.Content) == "" {
			return validationError("annotation content is required")
		}

		created = store.Annotation{
			ID:         util.NewID("ann"),
			Content:    input.Content,
			Type:       annotationType,
			QuoteID:    resolved.quoteID,
			SegmentID:  resolved.segmentID,
			DocumentID: resolved.documentID,
			CodeID:     input.CodeID,
			ProjectID:  resolved.projectID,
			CreatedBy:  userID,
		}
		return st.InsertAnnotation(ctx, created)
	})
	if err != nil {
		return store.Annotation{}, err
	}
	return s.store.GetAnnotation(ctx, created.ID)
}
