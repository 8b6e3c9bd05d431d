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

const defaultCodeColor = "#3B82F6"

type CreateCodeInput struct {
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	ParentID    *string `json:"parent_id"`
}

type UpdateCodeInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

func (s *Service) CreateCode(ctx context.Context, input CreateCodeInput, userID string) (store.Code, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Code{}, validationError("code name is required")
	}
	if _, err := s.resolveProject(ctx, s.store, input.ProjectID, userID); err != nil {
		return store.Code{}, err
	}

	var created store.Code
	err := s.store.WithTx(ctx, func(st store.Store) error {
		if input.ParentID != nil {
			parent, err := st.GetCode(ctx, *input.ParentID)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.ProjectID != input.ProjectID) {
				return invalidParent(*input.ParentID)
			}
			if err != nil {
				return fmt.Errorf("get parent code: %w", err)
			}
		}

		if _, err := st.FindSiblingCode(ctx, input.ProjectID, input.ParentID, name); err == nil {
			return duplicateName(name)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check sibling name: %w", err)
		}

		created = store.Code{
			ID:          util.NewID("code"),
			ProjectID:   input.ProjectID,
			Name:        name,
			Description: input.Description,
			Color:       input.Color,
			ParentID:    input.ParentID,
			CreatedBy:   userID,
		}
		if err := st.InsertCode(ctx, created); err != nil {
			if store.IsUniqueViolation(err) {
				return duplicateName(name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return store.Code{}, err
	}
	return s.store.GetCode(ctx, created.ID)
}

func (s *Service) GetCode(ctx context.Context, codeID, userID string) (store.Code, error) {
	return s.resolveCode(ctx, s.store, codeID, userID)
}

func (s *Service) ListProjectCodes(ctx context.Context, projectID, userID string) ([]store.Code, error) {
	allowed, err := s.softProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Code{}, nil
	}
	return s.store.ListProjectCodes(ctx, projectID)
}

func (s *Service) UpdateCode(ctx context.Context, codeID string, input UpdateCodeInput, userID string) (store.Code, error) {
	code, err := s.resolveCode(ctx, s.store, codeID, userID)
	if err != nil {
		return store.Code{}, err
	}

	err = s.store.WithTx(ctx, func(st store.Store) error {
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return validationError("code name is required")
			}
			if name != code.Name {
				sibling, err := st.FindSiblingCode(ctx, code.ProjectID, code.ParentID, name)
				if err == nil && sibling.ID != code.ID {
					return duplicateName(name)
				}
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("check sibling name: %w", err)
				}
			}
			code.Name = name
		}
		if input.Description != nil {
			code.Description = *input.Description
		}
		if input.Color != nil {
			code.Color = *input.Color
		}
		if err := st.UpdateCode(ctx, code); err != nil {
			if store.IsUniqueViolation(err) {
				return duplicateName(code.Name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return store.Code{}, err
	}
	return s.store.GetCode(ctx, codeID)
}

// ReparentCode moves a code under a new parent (or to the root when
// newParentID is nil). Self-parenting and any deeper cycle are rejected.
func (s *Service) ReparentCode(ctx context.Context, codeID string, newParentID *string, userID string) (store.Code, error) {
	code, err := s.resolveCode(ctx, s.store, codeID, userID)
	if err != nil {
		return store.Code{}, err
	}

	err = s.store.WithTx(ctx, func(st store.Store) error {
		if newParentID != nil {
			if *newParentID == codeID {
				return circularReference(codeID)
			}
			parent, err := st.GetCode(ctx, *newParentID)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && parent.ProjectID != code.ProjectID) {
				return invalidParent(*newParentID)
			}
			if err != nil {
				return fmt.Errorf("get parent code: %w", err)
			}
			cyclic, err := s.ancestorChainContains(ctx, st, *newParentID, codeID)
			if err != nil {
				return err
			}
			if cyclic {
				return circularReference(codeID)
			}
		}

		sibling, err := st.FindSiblingCode(ctx, code.ProjectID, newParentID, code.Name)
		if err == nil && sibling.ID != code.ID {
			return duplicateName(code.Name)
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check sibling name: %w", err)
		}

		code.ParentID = newParentID
		if err := st.UpdateCode(ctx, code); err != nil {
			if store.IsUniqueViolation(err) {
				return duplicateName(code.Name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return store.Code{}, err
	}
	return s.store.GetCode(ctx, codeID)
}

// ancestorChainContains walks startID's parent chain and reports whether
// targetID appears. The visited set bounds the walk even if the stored
// tree is already corrupt.
func (s *Service) ancestorChainContains(ctx context.Context, st store.Store, startID, targetID string) (bool, error) {
	visited := map[string]bool{}
	current := startID
	for {
		if current == targetID {
			return true, nil
		}
		if visited[current] {
			return true, nil
		}
		visited[current] = true

		code, err := st.GetCode(ctx, current)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("walk ancestor chain: %w", err)
		}
		if code.ParentID == nil {
			return false, nil
		}
		current = *code.ParentID
	}
}

func (s *Service) DeleteCode(ctx context.Context, codeID, userID string) error {
	if _, err := s.resolveCode(ctx, s.store, codeID, userID); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(st store.Store) error {
		children, err := st.CountChildCodes(ctx, codeID)
		if err != nil {
			return err
		}
		if children > 0 {
			return hasChildren(codeID, children)
		}
		usages, err := st.CountCodeUsages(ctx, codeID)
		if err != nil {
			return err
		}
		if usages > 0 {
			return inUse(codeID, usages)
		}
		return st.DeleteCode(ctx, codeID)
	})
}

func (s *Service) ListCodeQuotes(ctx context.Context, codeID, userID string) ([]store.Quote, error) {
	code, err := s.store.GetCode(ctx, codeID)
	if errors.Is(err, sql.ErrNoRows) {
		return []store.Quote{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	allowed, err := s.softProjectAccess(ctx, code.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Quote{}, nil
	}
	return s.store.ListCodeQuotes(ctx, codeID)
}

func (s *Service) ListCodeSegments(ctx context.Context, codeID, userID string) ([]store.Segment, error) {
	code, err := s.store.GetCode(ctx, codeID)
	if errors.Is(err, sql.ErrNoRows) {
		return []store.Segment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	allowed, err := s.softProjectAccess(ctx, code.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []store.Segment{}, nil
	}
	return s.store.ListCodeSegments(ctx, codeID)
}

type codeDefaults struct {
	description   string
	color         string
	autoGenerated bool
}

// findOrCreateCode matches by exact name anywhere in the project's code
// forest (hierarchy position is deliberately ignored for this lookup; the
// auto-coding workflow treats codes as flat tags). On a losing race the
// unique-violation is resolved by re-fetching the winner.
func (s *Service) findOrCreateCode(ctx context.Context, st store.Store, projectID, name, userID string, defaults codeDefaults) (store.Code, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Code{}, false, validationError("code name is required")
	}

	existing, err := st.FindCodeByName(ctx, projectID, name)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Code{}, false, fmt.Errorf("find code by name: %w", err)
	}

	color := defaults.color
	if color == "" {
		color = defaultCodeColor
	}
	created := store.Code{
		ID:              util.NewID("code"),
		ProjectID:       projectID,
		Name:            name,
		Description:     defaults.description,
		Color:           color,
		IsAutoGenerated: defaults.autoGenerated,
		CreatedBy:       userID,
	}
	if err := st.InsertCode(ctx, created); err != nil {
		if store.IsUniqueViolation(err) {
			winner, ferr := st.FindCodeByName(ctx, projectID, name)
			if ferr != nil {
				return store.Code{}, false, fmt.Errorf("refetch code after conflict: %w", ferr)
			}
			return winner, true, nil
		}
		return store.Code{}, false, err
	}
	return created, false, nil
}

// FindOrCreateCode is the standalone entry point for the flat-tag lookup
// used by auto-coding clients.
func (s *Service) FindOrCreateCode(ctx context.Context, projectID, name, userID string, description, color string) (store.Code, bool, error) {
	if _, err := s.resolveProject(ctx, s.store, projectID, userID); err != nil {
		return store.Code{}, false, err
	}
	var (
		code        store.Code
		wasExisting bool
	)
	err := s.store.WithTx(ctx, func(st store.Store) error {
		var err error
		code, wasExisting, err = s.findOrCreateCode(ctx, st, projectID, name, userID, codeDefaults{description: description, color: color})
		return err
	})
	return code, wasExisting, err
}
