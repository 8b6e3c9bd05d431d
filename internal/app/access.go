package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tessera/api/internal/store"
)

// Access resolution walks any entity up its parent chain to the owning
// project and authorizes against its owner and collaborator set. Hard
// resolvers distinguish NotFound from Forbidden; the soft check collapses
// both to "no", so read paths never leak existence.

func (s *Service) projectMember(ctx context.Context, st store.Store, projectID, userID string) (bool, error) {
	if s.cache != nil {
		isMember, found, err := s.cache.GetMembership(ctx, projectID, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("project_id", projectID).Msg("membership cache read failed")
		} else if found {
			return isMember, nil
		}
	}

	project, err := st.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("project", projectID)
	}
	if err != nil {
		return false, fmt.Errorf("get project: %w", err)
	}

	isMember := project.OwnerID == userID
	if !isMember {
		isMember, err = st.IsCollaborator(ctx, projectID, userID)
		if err != nil {
			return false, err
		}
	}

	if s.cache != nil {
		if err := s.cache.SetMembership(ctx, projectID, userID, isMember); err != nil {
			s.log.Warn().Err(err).Str("project_id", projectID).Msg("membership cache write failed")
		}
	}
	return isMember, nil
}

func (s *Service) resolveProject(ctx context.Context, st store.Store, projectID, userID string) (store.Project, error) {
	project, err := st.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFound("project", projectID)
	}
	if err != nil {
		return store.Project{}, fmt.Errorf("get project: %w", err)
	}
	isMember := project.OwnerID == userID
	if !isMember {
		isMember, err = st.IsCollaborator(ctx, projectID, userID)
		if err != nil {
			return store.Project{}, err
		}
	}
	if !isMember {
		return store.Project{}, forbidden("project", projectID)
	}
	return project, nil
}

func (s *Service) resolveDocument(ctx context.Context, st store.Store, documentID, userID string) (store.Document, error) {
	document, err := st.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("document", documentID)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get document: %w", err)
	}
	isMember, err := s.projectMember(ctx, st, document.ProjectID, userID)
	if err != nil {
		return store.Document{}, err
	}
	if !isMember {
		return store.Document{}, forbidden("document", documentID)
	}
	return document, nil
}

func (s *Service) resolveSegment(ctx context.Context, st store.Store, segmentID, userID string) (store.Segment, store.Document, error) {
	segment, err := st.GetSegment(ctx, segmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Segment{}, store.Document{}, notFound("segment", segmentID)
	}
	if err != nil {
		return store.Segment{}, store.Document{}, fmt.Errorf("get segment: %w", err)
	}
	document, err := st.GetDocument(ctx, segment.DocumentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Segment{}, store.Document{}, notFound("segment", segmentID)
	}
	if err != nil {
		return store.Segment{}, store.Document{}, fmt.Errorf("get document: %w", err)
	}
	isMember, err := s.projectMember(ctx, st, document.ProjectID, userID)
	if err != nil {
		return store.Segment{}, store.Document{}, err
	}
	if !isMember {
		return store.Segment{}, store.Document{}, forbidden("segment", segmentID)
	}
	return segment, document, nil
}

// resolveQuote walks quote -> segment -> document -> project rather than
// using the quote's denormalized document_id, so a stale pairing cannot
// grant access.
func (s *Service) resolveQuote(ctx context.Context, st store.Store, quoteID, userID string) (store.Quote, store.Segment, store.Document, error) {
	quote, err := st.GetQuote(ctx, quoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Quote{}, store.Segment{}, store.Document{}, notFound("quote", quoteID)
	}
	if err != nil {
		return store.Quote{}, store.Segment{}, store.Document{}, fmt.Errorf("get quote: %w", err)
	}
	segment, document, err := s.resolveSegment(ctx, st, quote.SegmentID, userID)
	if err != nil {
		var derr *DomainError
		if errors.As(err, &derr) && derr.Code == "FORBIDDEN" {
			return store.Quote{}, store.Segment{}, store.Document{}, forbidden("quote", quoteID)
		}
		return store.Quote{}, store.Segment{}, store.Document{}, err
	}
	return quote, segment, document, nil
}

func (s *Service) resolveCode(ctx context.Context, st store.Store, codeID, userID string) (store.Code, error) {
	code, err := st.GetCode(ctx, codeID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Code{}, notFound("code", codeID)
	}
	if err != nil {
		return store.Code{}, fmt.Errorf("get code: %w", err)
	}
	isMember, err := s.projectMember(ctx, st, code.ProjectID, userID)
	if err != nil {
		return store.Code{}, err
	}
	if !isMember {
		return store.Code{}, forbidden("code", codeID)
	}
	return code, nil
}

// softProjectAccess is the non-leaking variant: missing project and denied
// access both come back false. Store failures still propagate.
func (s *Service) softProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	isMember, err := s.projectMember(ctx, s.store, projectID, userID)
	if err != nil {
		var derr *DomainError
		if errors.As(err, &derr) {
			return false, nil
		}
		return false, err
	}
	return isMember, nil
}
