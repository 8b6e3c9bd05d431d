package store

import (
	"context"
	"database/sql"
	"fmt"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store over *sql.DB. A transaction-scoped copy
// shares the same db handle but routes queries through the open *sql.Tx.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ----------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ----------------------------------------------------------------------------
// Projects

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, research_question, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Title, project.Description, project.ResearchQuestion, project.OwnerID)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.q.QueryRowContext(ctx, `
		SELECT id, title, description, research_question, owner_id, created_at, updated_at
		FROM projects WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Title, &item.Description, &item.ResearchQuestion, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.title, p.description, p.research_question, p.owner_id, p.created_at, p.updated_at
		FROM projects p
		LEFT JOIN project_collaborators pc ON pc.project_id = p.id
		WHERE p.owner_id=$1 OR pc.user_id=$1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.ResearchQuestion, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE projects
		SET title=$2, description=$3, research_question=$4, updated_at=NOW()
		WHERE id=$1
	`, project.ID, project.Title, project.Description, project.ResearchQuestion)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, projectID string) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.created_at, u.updated_at
		FROM project_collaborators pc
		JOIN users u ON u.id = pc.user_id
		WHERE pc.project_id=$1
		ORDER BY pc.added_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Email, &item.DisplayName, &item.PasswordHash, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, projectID, userID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO project_collaborators (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM project_collaborators WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("remove collaborator: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove collaborator rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_collaborators WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

// ----------------------------------------------------------------------------
// Documents

func (s *PostgresStore) InsertDocument(ctx context.Context, document Document) error {
	documentType := document.DocumentType
	if documentType == "" {
		documentType = "text"
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, name, description, document_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, document.ID, document.ProjectID, document.Name, document.Description, documentType, document.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.q.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, document_type, uploaded_by, created_at, updated_at
		FROM documents WHERE id=$1
	`, documentID).Scan(&item.ID, &item.ProjectID, &item.Name, &item.Description, &item.DocumentType, &item.UploadedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, name, description, document_type, uploaded_by, created_at, updated_at
		FROM documents
		WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Description, &item.DocumentType, &item.UploadedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Segments

func (s *PostgresStore) InsertSegments(ctx context.Context, segments []Segment) error {
	for _, segment := range segments {
		segmentType := segment.SegmentType
		if segmentType == "" {
			segmentType = "line"
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO document_segments
				(id, document_id, segment_type, content, ordinal, line_number, page_number, paragraph_index, row_index, character_start, character_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, segment.ID, segment.DocumentID, segmentType, segment.Content, segment.Ordinal,
			segment.LineNumber, segment.PageNumber, segment.ParagraphIndex, segment.RowIndex,
			segment.CharacterStart, segment.CharacterEnd)
		if err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
	}
	return nil
}

const segmentColumns = `id, document_id, segment_type, content, ordinal, line_number, page_number, paragraph_index, row_index, character_start, character_end, created_at`

func scanSegment(row interface{ Scan(...any) error }) (Segment, error) {
	var item Segment
	err := row.Scan(&item.ID, &item.DocumentID, &item.SegmentType, &item.Content, &item.Ordinal,
		&item.LineNumber, &item.PageNumber, &item.ParagraphIndex, &item.RowIndex,
		&item.CharacterStart, &item.CharacterEnd, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) GetSegment(ctx context.Context, segmentID string) (Segment, error) {
	return scanSegment(s.q.QueryRowContext(ctx, `
		SELECT `+segmentColumns+` FROM document_segments WHERE id=$1
	`, segmentID))
}

func (s *PostgresStore) ListDocumentSegments(ctx context.Context, documentID string) ([]Segment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+segmentColumns+`
		FROM document_segments
		WHERE document_id=$1
		ORDER BY ordinal ASC, created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	items := make([]Segment, 0)
	for rows.Next() {
		item, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FirstDocumentSegment(ctx context.Context, documentID string) (Segment, error) {
	return scanSegment(s.q.QueryRowContext(ctx, `
		SELECT `+segmentColumns+`
		FROM document_segments
		WHERE document_id=$1
		ORDER BY ordinal ASC, created_at ASC
		LIMIT 1
	`, documentID))
}

func (s *PostgresStore) DeleteSegment(ctx context.Context, segmentID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM document_segments WHERE id=$1`, segmentID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Quotes

const quoteColumns = `id, segment_id, document_id, text, start_char, end_char, created_by, created_at, updated_at`

func scanQuote(row interface{ Scan(...any) error }) (Quote, error) {
	var item Quote
	err := row.Scan(&item.ID, &item.SegmentID, &item.DocumentID, &item.Text,
		&item.StartChar, &item.EndChar, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertQuote(ctx context.Context, quote Quote) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO quotes (id, segment_id, document_id, text, start_char, end_char, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (segment_id, start_char, end_char)
			WHERE start_char IS NOT NULL AND end_char IS NOT NULL
			DO NOTHING
	`, quote.ID, quote.SegmentID, quote.DocumentID, quote.Text, quote.StartChar, quote.EndChar, quote.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	return scanQuote(s.q.QueryRowContext(ctx, `
		SELECT `+quoteColumns+` FROM quotes WHERE id=$1
	`, quoteID))
}

func (s *PostgresStore) FindPositionlessQuote(ctx context.Context, segmentID, text string) (Quote, error) {
	return scanQuote(s.q.QueryRowContext(ctx, `
		SELECT `+quoteColumns+` FROM quotes
		WHERE segment_id=$1 AND start_char IS NULL AND end_char IS NULL AND btrim(text)=btrim($2)
		ORDER BY created_at
		LIMIT 1
	`, segmentID, text))
}

func (s *PostgresStore) GetQuoteByRange(ctx context.Context, segmentID string, startChar, endChar int) (Quote, error) {
	return scanQuote(s.q.QueryRowContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE segment_id=$1 AND start_char=$2 AND end_char=$3
	`, segmentID, startChar, endChar))
}

func (s *PostgresStore) ListOverlappingQuotes(ctx context.Context, segmentID string, startChar, endChar int) ([]Quote, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE segment_id=$1
		  AND start_char IS NOT NULL AND end_char IS NOT NULL
		  AND start_char < $3 AND end_char > $2
		ORDER BY start_char ASC, created_at ASC
	`, segmentID, startChar, endChar)
	if err != nil {
		return nil, fmt.Errorf("list overlapping quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		item, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocumentQuotes(ctx context.Context, documentID string) ([]Quote, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes
		WHERE document_id=$1
		ORDER BY start_char ASC NULLS LAST, created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		item, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCodeQuotes(ctx context.Context, codeID string) ([]Quote, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT q.id, q.segment_id, q.document_id, q.text, q.start_char, q.end_char, q.created_by, q.created_at, q.updated_at
		FROM quotes q
		JOIN quote_codes qc ON qc.quote_id = q.id
		WHERE qc.code_id=$1
		ORDER BY q.created_at ASC
	`, codeID)
	if err != nil {
		return nil, fmt.Errorf("list code quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		item, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteQuote(ctx context.Context, quoteID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM quotes WHERE id=$1`, quoteID)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Codes

const codeColumns = `id, project_id, name, description, color, parent_id, is_auto_generated, created_by, created_at, updated_at`

func scanCode(row interface{ Scan(...any) error }) (Code, error) {
	var item Code
	err := row.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Description, &item.Color,
		&item.ParentID, &item.IsAutoGenerated, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertCode(ctx context.Context, code Code) error {
	color := code.Color
	if color == "" {
		color = "#3B82F6"
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO codes (id, project_id, name, description, color, parent_id, is_auto_generated, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, COALESCE(parent_id, ''), name) DO NOTHING
	`, code.ID, code.ProjectID, code.Name, code.Description, color, code.ParentID, code.IsAutoGenerated, code.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) GetCode(ctx context.Context, codeID string) (Code, error) {
	return scanCode(s.q.QueryRowContext(ctx, `
		SELECT `+codeColumns+` FROM codes WHERE id=$1
	`, codeID))
}

func (s *PostgresStore) FindCodeByName(ctx context.Context, projectID, name string) (Code, error) {
	return scanCode(s.q.QueryRowContext(ctx, `
		SELECT `+codeColumns+`
		FROM codes
		WHERE project_id=$1 AND name=$2
		ORDER BY created_at ASC
		LIMIT 1
	`, projectID, name))
}

func (s *PostgresStore) FindSiblingCode(ctx context.Context, projectID string, parentID *string, name string) (Code, error) {
	return scanCode(s.q.QueryRowContext(ctx, `
		SELECT `+codeColumns+`
		FROM codes
		WHERE project_id=$1 AND COALESCE(parent_id, '')=COALESCE($2, '') AND name=$3
	`, projectID, parentID, name))
}

func (s *PostgresStore) UpdateCode(ctx context.Context, code Code) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE codes
		SET name=$2, description=$3, color=$4, parent_id=$5, updated_at=NOW()
		WHERE id=$1
	`, code.ID, code.Name, code.Description, code.Color, code.ParentID)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update code: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCode(ctx context.Context, codeID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM codes WHERE id=$1`, codeID)
	if err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectCodes(ctx context.Context, projectID string) ([]Code, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+codeColumns+`
		FROM codes
		WHERE project_id=$1
		ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	items := make([]Code, 0)
	for rows.Next() {
		item, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountChildCodes(ctx context.Context, codeID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM codes WHERE parent_id=$1`, codeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count child codes: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountCodeUsages(ctx context.Context, codeID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM quote_codes WHERE code_id=$1)
			 + (SELECT COUNT(*) FROM segment_codes WHERE code_id=$1)
	`, codeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count code usages: %w", err)
	}
	return count, nil
}

// ----------------------------------------------------------------------------
// Code links

func (s *PostgresStore) LinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO quote_codes (quote_id, code_id)
		VALUES ($1, $2)
		ON CONFLICT (quote_id, code_id) DO NOTHING
	`, quoteID, codeID)
	if err != nil {
		return false, fmt.Errorf("link quote code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link quote code rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UnlinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM quote_codes WHERE quote_id=$1 AND code_id=$2
	`, quoteID, codeID)
	if err != nil {
		return false, fmt.Errorf("unlink quote code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlink quote code rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) LinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO segment_codes (segment_id, code_id)
		VALUES ($1, $2)
		ON CONFLICT (segment_id, code_id) DO NOTHING
	`, segmentID, codeID)
	if err != nil {
		return false, fmt.Errorf("link segment code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link segment code rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UnlinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM segment_codes WHERE segment_id=$1 AND code_id=$2
	`, segmentID, codeID)
	if err != nil {
		return false, fmt.Errorf("unlink segment code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlink segment code rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListSegmentCodes(ctx context.Context, segmentID string) ([]Code, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.project_id, c.name, c.description, c.color, c.parent_id, c.is_auto_generated, c.created_by, c.created_at, c.updated_at
		FROM codes c
		JOIN segment_codes sc ON sc.code_id = c.id
		WHERE sc.segment_id=$1
		ORDER BY c.name ASC
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment codes: %w", err)
	}
	defer rows.Close()

	items := make([]Code, 0)
	for rows.Next() {
		item, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCodeSegments(ctx context.Context, codeID string) ([]Segment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT s.id, s.document_id, s.segment_type, s.content, s.ordinal, s.line_number, s.page_number, s.paragraph_index, s.row_index, s.character_start, s.character_end, s.created_at
		FROM document_segments s
		JOIN segment_codes sc ON sc.segment_id = s.id
		WHERE sc.code_id=$1
		ORDER BY s.document_id ASC, s.ordinal ASC
	`, codeID)
	if err != nil {
		return nil, fmt.Errorf("list code segments: %w", err)
	}
	defer rows.Close()

	items := make([]Segment, 0)
	for rows.Next() {
		item, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return items, nil
}

// ----------------------------------------------------------------------------
// Annotations

const annotationColumns = `id, content, annotation_type, quote_id, segment_id, document_id, code_id, project_id, created_by, created_at, updated_at`

func scanAnnotation(row interface{ Scan(...any) error }) (Annotation, error) {
	var item Annotation
	err := row.Scan(&item.ID, &item.Content, &item.Type, &item.QuoteID, &item.SegmentID,
		&item.DocumentID, &item.CodeID, &item.ProjectID, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, annotation Annotation) error {
	annotationType := annotation.Type
	if annotationType == "" {
		annotationType = "MEMO"
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO annotations (id, content, annotation_type, quote_id, segment_id, document_id, code_id, project_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, annotation.ID, annotation.Content, annotationType, annotation.QuoteID, annotation.SegmentID,
		annotation.DocumentID, annotation.CodeID, annotation.ProjectID, annotation.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	return scanAnnotation(s.q.QueryRowContext(ctx, `
		SELECT `+annotationColumns+` FROM annotations WHERE id=$1
	`, annotationID))
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, annotationID, content, annotationType string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE annotations
		SET content=COALESCE(NULLIF($2, ''), content),
		    annotation_type=COALESCE(NULLIF($3, ''), annotation_type),
		    updated_at=NOW()
		WHERE id=$1
	`, annotationID, content, annotationType)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, annotationID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) listAnnotations(ctx context.Context, query string, args ...any) ([]Annotation, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListQuoteAnnotations(ctx context.Context, quoteID string) ([]Annotation, error) {
	return s.listAnnotations(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE quote_id=$1
		ORDER BY created_at ASC
	`, quoteID)
}

func (s *PostgresStore) ListSegmentAnnotations(ctx context.Context, segmentID string) ([]Annotation, error) {
	return s.listAnnotations(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE segment_id=$1
		ORDER BY created_at ASC
	`, segmentID)
}

func (s *PostgresStore) ListProjectAnnotations(ctx context.Context, projectID, annotationType, createdBy string) ([]Annotation, error) {
	return s.listAnnotations(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE project_id=$1
		  AND ($2='' OR annotation_type=$2)
		  AND ($3='' OR created_by=$3)
		ORDER BY created_at DESC
	`, projectID, annotationType, createdBy)
}
