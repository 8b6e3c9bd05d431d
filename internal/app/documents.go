package app

import (
	"context"
	"errors"
	"strings"

	"tessera/api/internal/store"
	"tessera/api/internal/util"
)

type SegmentInput struct {
	SegmentType    string `json:"segment_type"`
	Content        string `json:"content"`
	LineNumber     *int   `json:"line_number"`
	PageNumber     *int   `json:"page_number"`
	ParagraphIndex *int   `json:"paragraph_index"`
	RowIndex       *int   `json:"row_index"`
	CharacterStart *int   `json:"character_start"`
	CharacterEnd   *int   `json:"character_end"`
}

type CreateDocumentInput struct {
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	DocumentType string         `json:"document_type"`
	Segments     []SegmentInput `json:"segments"`
}

// CreateDocument stores a parsed document with its ordered segments. The
// upload parser lives outside this service; callers hand over segments in
// display order and that order is frozen as each segment's ordinal.
func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput, userID string) (store.Document, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Document{}, validationError("document name is required")
	}
	if _, err := s.resolveProject(ctx, s.store, input.ProjectID, userID); err != nil {
		return store.Document{}, err
	}

	document := store.Document{
		ID:           util.NewID("doc"),
		ProjectID:    input.ProjectID,
		Name:         input.Name,
		Description:  input.Description,
		DocumentType: input.DocumentType,
		UploadedBy:   userID,
	}
	err := s.store.WithTx(ctx, func(st store.Store) error {
		if err := st.InsertDocument(ctx, document); err != nil {
			return err
		}
		segments := make([]store.Segment, 0, len(input.Segments))
		for i, in := range input.Segments {
			segments = append(segments, store.Segment{
				ID:             util.NewID("seg"),
				DocumentID:     document.ID,
				SegmentType:    in.SegmentType,
				Content:        in.Content,
				Ordinal:        i,
				LineNumber:     in.LineNumber,
				PageNumber:     in.PageNumber,
				ParagraphIndex: in.ParagraphIndex,
				RowIndex:       in.RowIndex,
				CharacterStart: in.CharacterStart,
				CharacterEnd:   in.CharacterEnd,
			})
		}
		return st.InsertSegments(ctx, segments)
	})
	if err != nil {
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, document.ID)
}

func (s *Service) GetDocument(ctx context.Context, documentID, userID string) (store.Document, error) {
	return s.resolveDocument(ctx, s.store, documentID, userID)
}

func (s *Service) ListProjectDocuments(ctx context.Context, projectID, userID string) ([]store.Document, error) {
	allowed, err := s.softProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Document{}, nil
	}
	return s.store.ListProjectDocuments(ctx, projectID)
}

func (s *Service) DeleteDocument(ctx context.Context, documentID, userID string) error {
	if _, err := s.resolveDocument(ctx, s.store, documentID, userID); err != nil {
		return err
	}
	return s.store.DeleteDocument(ctx, documentID)
}

func (s *Service) GetSegment(ctx context.Context, segmentID, userID string) (store.Segment, error) {
	segment, _, err := s.resolveSegment(ctx, s.store, segmentID, userID)
	return segment, err
}

func (s *Service) ListDocumentSegments(ctx context.Context, documentID, userID string) ([]store.Segment, error) {
	if _, err := s.resolveDocument(ctx, s.store, documentID, userID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentSegments(ctx, documentID)
}

// DeleteSegment removes the segment; its quotes go with it via the
// store's cascade.
func (s *Service) DeleteSegment(ctx context.Context, segmentID, userID string) error {
	if _, _, err := s.resolveSegment(ctx, s.store, segmentID, userID); err != nil {
		return err
	}
	return s.store.DeleteSegment(ctx, segmentID)
}

func (s *Service) ListSegmentCodes(ctx context.Context, segmentID, userID string) ([]store.Code, error) {
	if _, _, err := s.resolveSegment(ctx, s.store, segmentID, userID); err != nil {
		var derr *DomainError
		if errors.As(err, &derr) {
			return []store.Code{}, nil
		}
		return nil, err
	}
	return s.store.ListSegmentCodes(ctx, segmentID)
}

func (s *Service) UnlinkQuoteCode(ctx context.Context, quoteID, codeID, userID string) error {
	if _, _, _, err := s.resolveQuote(ctx, s.store, quoteID, userID); err != nil {
		return err
	}
	removed, err := s.store.UnlinkQuoteCode(ctx, quoteID, codeID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("quote code link", codeID)
	}
	return nil
}

func (s *Service) UnlinkSegmentCode(ctx context.Context, segmentID, codeID, userID string) error {
	if _, _, err := s.resolveSegment(ctx, s.store, segmentID, userID); err != nil {
		return err
	}
	removed, err := s.store.UnlinkSegmentCode(ctx, segmentID, codeID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("segment code link", codeID)
	}
	return nil
}
