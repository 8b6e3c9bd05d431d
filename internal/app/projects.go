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

type CreateProjectInput struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ResearchQuestion string `json:"research_question"`
}

func (s *Service) CreateProject(ctx context.Context, input CreateProjectInput, userID string) (store.Project, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Project{}, validationError("project title is required")
	}
	project := store.Project{
		ID:               util.NewID("prj"),
		Title:            input.Title,
		Description:      input.Description,
		ResearchQuestion: input.ResearchQuestion,
		OwnerID:          userID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return s.store.GetProject(ctx, project.ID)
}

func (s *Service) GetProject(ctx context.Context, projectID, userID string) (store.Project, error) {
	return s.resolveProject(ctx, s.store, projectID, userID)
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]store.Project, error) {
	return s.store.ListProjectsForUser(ctx, userID)
}

type UpdateProjectInput struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	ResearchQuestion *string `json:"research_question"`
}

func (s *Service) UpdateProject(ctx context.Context, projectID string, input UpdateProjectInput, userID string) (store.Project, error) {
	project, err := s.resolveProject(ctx, s.store, projectID, userID)
	if err != nil {
		return store.Project{}, err
	}
	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return store.Project{}, validationError("project title is required")
		}
		project.Title = *input.Title
	}
	if input.Description != nil {
		project.Description = *input.Description
	}
	if input.ResearchQuestion != nil {
		project.ResearchQuestion = *input.ResearchQuestion
	}
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return s.store.GetProject(ctx, projectID)
}

// DeleteProject is owner-only; collaborators can read and edit but not
// remove the project.
func (s *Service) DeleteProject(ctx context.Context, projectID, userID string) error {
	project, err := s.resolveProject(ctx, s.store, projectID, userID)
	if err != nil {
		return err
	}
	if project.OwnerID != userID {
		return forbidden("project", projectID)
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.invalidateMembership(ctx, projectID)
	return nil
}

func (s *Service) ListCollaborators(ctx context.Context, projectID, userID string) ([]store.User, error) {
	if _, err := s.resolveProject(ctx, s.store, projectID, userID); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, projectID)
}

// AddCollaborator is owner-only. Adding the owner is a no-op by invariant:
// the owner is never also a collaborator.
func (s *Service) AddCollaborator(ctx context.Context, projectID, collaboratorID, userID string) error {
	project, err := s.resolveProject(ctx, s.store, projectID, userID)
	if err != nil {
		return err
	}
	if project.OwnerID != userID {
		return forbidden("project", projectID)
	}
	if collaboratorID == project.OwnerID {
		return validationError("the project owner cannot be added as a collaborator")
	}
	if _, err := s.store.GetUserByID(ctx, collaboratorID); errors.Is(err, sql.ErrNoRows) {
		return notFound("user", collaboratorID)
	} else if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.store.AddCollaborator(ctx, projectID, collaboratorID); err != nil {
		return err
	}
	s.invalidateMembership(ctx, projectID)
	return nil
}

func (s *Service) RemoveCollaborator(ctx context.Context, projectID, collaboratorID, userID string) error {
	project, err := s.resolveProject(ctx, s.store, projectID, userID)
	if err != nil {
		return err
	}
	if project.OwnerID != userID && collaboratorID != userID {
		return forbidden("project", projectID)
	}
	removed, err := s.store.RemoveCollaborator(ctx, projectID, collaboratorID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("collaborator", collaboratorID)
	}
	s.invalidateMembership(ctx, projectID)
	return nil
}

func (s *Service) invalidateMembership(ctx context.Context, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProject(ctx, projectID); err != nil {
		s.log.Warn().Err(err).Str("project_id", projectID).Msg("membership cache invalidation failed")
	}
}
