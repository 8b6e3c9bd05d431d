package store

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Project struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ResearchQuestion string    `json:"research_question"`
	OwnerID          string    `json:"owner_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Document struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	DocumentType string    `json:"document_type"`
	UploadedBy   string    `json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Segment is the smallest addressable text unit of a document. Content is
// immutable once inserted; every quote range below it indexes into it.
type Segment struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	SegmentType    string    `json:"segment_type"`
	Content        string    `json:"content"`
	Ordinal        int       `json:"ordinal"`
	LineNumber     *int      `json:"line_number,omitempty"`
	PageNumber     *int      `json:"page_number,omitempty"`
	ParagraphIndex *int      `json:"paragraph_index,omitempty"`
	RowIndex       *int      `json:"row_index,omitempty"`
	CharacterStart *int      `json:"character_start,omitempty"`
	CharacterEnd   *int      `json:"character_end,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Quote is a half-open character range within its segment's content.
// DocumentID is denormalized and must equal the segment's document.
type Quote struct {
	ID         string    `json:"id"`
	SegmentID  string    `json:"segment_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	StartChar  *int      `json:"start_char,omitempty"`
	EndChar    *int      `json:"end_char,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Code is a named theme. Codes form a forest per project via ParentID.
type Code struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Color           string    `json:"color"`
	ParentID        *string   `json:"parent_id,omitempty"`
	IsAutoGenerated bool      `json:"is_auto_generated"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Annotation attaches free text to at most one primary target (quote,
// segment or document) plus an optional code. ProjectID is always derived
// from the target, never supplied by callers.
type Annotation struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Type       string    `json:"annotation_type"`
	QuoteID    *string   `json:"quote_id,omitempty"`
	SegmentID  *string   `json:"segment_id,omitempty"`
	DocumentID *string   `json:"document_id,omitempty"`
	CodeID     *string   `json:"code_id,omitempty"`
	ProjectID  string    `json:"project_id"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
