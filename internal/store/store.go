package store

import "context"

// Store is the persistence contract consumed by the service layer. A Store
// handed to a WithTx callback is scoped to that transaction; calling WithTx
// on it again runs the callback in the same transaction.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// Projects and collaborators
	InsertProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]Project, error)
	UpdateProject(ctx context.Context, project Project) error
	DeleteProject(ctx context.Context, projectID string) error
	ListCollaborators(ctx context.Context, projectID string) ([]User, error)
	AddCollaborator(ctx context.Context, projectID, userID string) error
	RemoveCollaborator(ctx context.Context, projectID, userID string) (bool, error)
	IsCollaborator(ctx context.Context, projectID, userID string) (bool, error)

	// Documents
	InsertDocument(ctx context.Context, document Document) error
	GetDocument(ctx context.Context, documentID string) (Document, error)
	ListProjectDocuments(ctx context.Context, projectID string) ([]Document, error)
	DeleteDocument(ctx context.Context, documentID string) error

	// Segments
	InsertSegments(ctx context.Context, segments []Segment) error
	GetSegment(ctx context.Context, segmentID string) (Segment, error)
	ListDocumentSegments(ctx context.Context, documentID string) ([]Segment, error)
	FirstDocumentSegment(ctx context.Context, documentID string) (Segment, error)
	DeleteSegment(ctx context.Context, segmentID string) error

	// Quotes
	InsertQuote(ctx context.Context, quote Quote) error
	GetQuote(ctx context.Context, quoteID string) (Quote, error)
	GetQuoteByRange(ctx context.Context, segmentID string, startChar, endChar int) (Quote, error)
	FindPositionlessQuote(ctx context.Context, segmentID, text string) (Quote, error)
	ListOverlappingQuotes(ctx context.Context, segmentID string, startChar, endChar int) ([]Quote, error)
	ListDocumentQuotes(ctx context.Context, documentID string) ([]Quote, error)
	ListCodeQuotes(ctx context.Context, codeID string) ([]Quote, error)
	DeleteQuote(ctx context.Context, quoteID string) error

	// Codes
	InsertCode(ctx context.Context, code Code) error
	GetCode(ctx context.Context, codeID string) (Code, error)
	FindCodeByName(ctx context.Context, projectID, name string) (Code, error)
	FindSiblingCode(ctx context.Context, projectID string, parentID *string, name string) (Code, error)
	UpdateCode(ctx context.Context, code Code) error
	DeleteCode(ctx context.Context, codeID string) error
	ListProjectCodes(ctx context.Context, projectID string) ([]Code, error)
	CountChildCodes(ctx context.Context, codeID string) (int, error)
	CountCodeUsages(ctx context.Context, codeID string) (int, error)

	// Code links
	LinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error)
	UnlinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error)
	LinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error)
	UnlinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error)
	ListSegmentCodes(ctx context.Context, segmentID string) ([]Code, error)
	ListCodeSegments(ctx context.Context, codeID string) ([]Segment, error)

	// Annotations
	InsertAnnotation(ctx context.Context, annotation Annotation) error
	GetAnnotation(ctx context.Context, annotationID string) (Annotation, error)
	UpdateAnnotation(ctx context.Context, annotationID, content, annotationType string) error
	DeleteAnnotation(ctx context.Context, annotationID string) error
	ListQuoteAnnotations(ctx context.Context, quoteID string) ([]Annotation, error)
	ListSegmentAnnotations(ctx context.Context, segmentID string) ([]Annotation, error)
	ListProjectAnnotations(ctx context.Context, projectID, annotationType, createdBy string) ([]Annotation, error)

	// WithTx runs fn inside a single transaction. The Store passed to fn is
	// transaction-scoped; any error aborts the whole transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	Ping(ctx context.Context) error
}
