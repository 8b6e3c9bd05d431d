package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"tessera/api/internal/store"
)

// memStore is a stateful in-memory store.Store used by the service tests.
// It mirrors the relational semantics the service relies on: ErrNoRows for
// missing rows, idempotent link tables, and segment deletion cascading to
// quotes. WithTx runs the callback directly; the tests that need
// transactional atomicity assert on observable outcomes instead.
type memStore struct {
	mu          sync.Mutex
	seq         int
	users       map[string]store.User
	projects    map[string]store.Project
	collabs     map[string]map[string]bool // projectID -> userID
	documents   map[string]store.Document
	segments    map[string]store.Segment
	quotes      map[string]store.Quote
	codes       map[string]store.Code
	quoteCodes  map[string]map[string]bool // quoteID -> codeID
	segCodes    map[string]map[string]bool // segmentID -> codeID
	annotations map[string]store.Annotation
	order       map[string]int // id -> insertion order

	// Fire once before the next insert, simulating a concurrent writer
	// sneaking in between the existence check and the insert.
	insertQuoteHook func(store.Quote) error
	insertCodeHook  func(store.Code) error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]store.User{},
		projects:    map[string]store.Project{},
		collabs:     map[string]map[string]bool{},
		documents:   map[string]store.Document{},
		segments:    map[string]store.Segment{},
		quotes:      map[string]store.Quote{},
		codes:       map[string]store.Code{},
		quoteCodes:  map[string]map[string]bool{},
		segCodes:    map[string]map[string]bool{},
		annotations: map[string]store.Annotation{},
		order:       map[string]int{},
	}
}

func (m *memStore) stamp(id string) time.Time {
	m.seq++
	m.order[id] = m.seq
	return time.Now()
}

func (m *memStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(m)
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

// Users

func (m *memStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = m.stamp(user.ID)
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

// Projects

func (m *memStore) InsertProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project.CreatedAt = m.stamp(project.ID)
	m.projects[project.ID] = project
	return nil
}

func (m *memStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Project{}
	for id, project := range m.projects {
		if project.OwnerID == userID || m.collabs[id][userID] {
			items = append(items, project)
		}
	}
	sortByOrder(m.order, items, func(p store.Project) string { return p.ID })
	return items, nil
}

func (m *memStore) UpdateProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.projects[project.ID]
	if !ok {
		return sql.ErrNoRows
	}
	project.CreatedAt = existing.CreatedAt
	m.projects[project.ID] = project
	return nil
}

func (m *memStore) DeleteProject(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	delete(m.collabs, projectID)
	return nil
}

func (m *memStore) ListCollaborators(ctx context.Context, projectID string) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.User{}
	for userID := range m.collabs[projectID] {
		if user, ok := m.users[userID]; ok {
			items = append(items, user)
		}
	}
	sortByOrder(m.order, items, func(u store.User) string { return u.ID })
	return items, nil
}

func (m *memStore) AddCollaborator(ctx context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collabs[projectID] == nil {
		m.collabs[projectID] = map[string]bool{}
	}
	m.collabs[projectID][userID] = true
	return nil
}

func (m *memStore) RemoveCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.collabs[projectID][userID] {
		return false, nil
	}
	delete(m.collabs[projectID], userID)
	return true, nil
}

func (m *memStore) IsCollaborator(ctx context.Context, projectID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collabs[projectID][userID], nil
}

// Documents

func (m *memStore) InsertDocument(ctx context.Context, document store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	document.CreatedAt = m.stamp(document.ID)
	m.documents[document.ID] = document
	return nil
}

func (m *memStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	document, ok := m.documents[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return document, nil
}

func (m *memStore) ListProjectDocuments(ctx context.Context, projectID string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Document{}
	for _, document := range m.documents {
		if document.ProjectID == projectID {
			items = append(items, document)
		}
	}
	sortByOrder(m.order, items, func(d store.Document) string { return d.ID })
	return items, nil
}

func (m *memStore) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, documentID)
	for id, segment := range m.segments {
		if segment.DocumentID == documentID {
			m.deleteSegmentLocked(id)
		}
	}
	return nil
}

// Segments

func (m *memStore) InsertSegments(ctx context.Context, segments []store.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, segment := range segments {
		segment.CreatedAt = m.stamp(segment.ID)
		m.segments[segment.ID] = segment
	}
	return nil
}

func (m *memStore) GetSegment(ctx context.Context, segmentID string) (store.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	segment, ok := m.segments[segmentID]
	if !ok {
		return store.Segment{}, sql.ErrNoRows
	}
	return segment, nil
}

func (m *memStore) ListDocumentSegments(ctx context.Context, documentID string) ([]store.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Segment{}
	for _, segment := range m.segments {
		if segment.DocumentID == documentID {
			items = append(items, segment)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Ordinal < items[j].Ordinal })
	return items, nil
}

func (m *memStore) FirstDocumentSegment(ctx context.Context, documentID string) (store.Segment, error) {
	segments, _ := m.ListDocumentSegments(ctx, documentID)
	if len(segments) == 0 {
		return store.Segment{}, sql.ErrNoRows
	}
	return segments[0], nil
}

func (m *memStore) deleteSegmentLocked(segmentID string) {
	delete(m.segments, segmentID)
	delete(m.segCodes, segmentID)
	for id, quote := range m.quotes {
		if quote.SegmentID == segmentID {
			delete(m.quotes, id)
			delete(m.quoteCodes, id)
		}
	}
}

func (m *memStore) DeleteSegment(ctx context.Context, segmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteSegmentLocked(segmentID)
	return nil
}

// Quotes

func (m *memStore) InsertQuote(ctx context.Context, quote store.Quote) error {
	if hook := m.insertQuoteHook; hook != nil {
		m.insertQuoteHook = nil
		if err := hook(quote); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	quote.CreatedAt = m.stamp(quote.ID)
	m.quotes[quote.ID] = quote
	return nil
}

func (m *memStore) GetQuote(ctx context.Context, quoteID string) (store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	quote, ok := m.quotes[quoteID]
	if !ok {
		return store.Quote{}, sql.ErrNoRows
	}
	return quote, nil
}

func (m *memStore) GetQuoteByRange(ctx context.Context, segmentID string, startChar, endChar int) (store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, quote := range m.quotes {
		if quote.SegmentID == segmentID && quote.StartChar != nil && quote.EndChar != nil &&
			*quote.StartChar == startChar && *quote.EndChar == endChar {
			return quote, nil
		}
	}
	return store.Quote{}, sql.ErrNoRows
}

func (m *memStore) FindPositionlessQuote(ctx context.Context, segmentID, text string) (store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	var first store.Quote
	for _, quote := range m.quotes {
		if quote.SegmentID != segmentID || quote.StartChar != nil || quote.EndChar != nil {
			continue
		}
		if strings.TrimSpace(quote.Text) != strings.TrimSpace(text) {
			continue
		}
		if !found || m.order[quote.ID] < m.order[first.ID] {
			first = quote
			found = true
		}
	}
	if !found {
		return store.Quote{}, sql.ErrNoRows
	}
	return first, nil
}

func (m *memStore) ListOverlappingQuotes(ctx context.Context, segmentID string, startChar, endChar int) ([]store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Quote{}
	for _, quote := range m.quotes {
		if quote.SegmentID != segmentID || quote.StartChar == nil || quote.EndChar == nil {
			continue
		}
		if *quote.StartChar < endChar && *quote.EndChar > startChar {
			items = append(items, quote)
		}
	}
	sortByOrder(m.order, items, func(q store.Quote) string { return q.ID })
	return items, nil
}

func (m *memStore) ListDocumentQuotes(ctx context.Context, documentID string) ([]store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Quote{}
	for _, quote := range m.quotes {
		if quote.DocumentID == documentID {
			items = append(items, quote)
		}
	}
	sortByOrder(m.order, items, func(q store.Quote) string { return q.ID })
	return items, nil
}

func (m *memStore) ListCodeQuotes(ctx context.Context, codeID string) ([]store.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Quote{}
	for quoteID, codes := range m.quoteCodes {
		if codes[codeID] {
			if quote, ok := m.quotes[quoteID]; ok {
				items = append(items, quote)
			}
		}
	}
	sortByOrder(m.order, items, func(q store.Quote) string { return q.ID })
	return items, nil
}

func (m *memStore) DeleteQuote(ctx context.Context, quoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, quoteID)
	delete(m.quoteCodes, quoteID)
	return nil
}

// Codes

func (m *memStore) InsertCode(ctx context.Context, code store.Code) error {
	if hook := m.insertCodeHook; hook != nil {
		m.insertCodeHook = nil
		if err := hook(code); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	code.CreatedAt = m.stamp(code.ID)
	m.codes[code.ID] = code
	return nil
}

func (m *memStore) GetCode(ctx context.Context, codeID string) (store.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[codeID]
	if !ok {
		return store.Code{}, sql.ErrNoRows
	}
	return code, nil
}

func (m *memStore) FindCodeByName(ctx context.Context, projectID, name string) (store.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []store.Code
	for _, code := range m.codes {
		if code.ProjectID == projectID && code.Name == name {
			matches = append(matches, code)
		}
	}
	if len(matches) == 0 {
		return store.Code{}, sql.ErrNoRows
	}
	sortByOrder(m.order, matches, func(c store.Code) string { return c.ID })
	return matches[0], nil
}

func (m *memStore) FindSiblingCode(ctx context.Context, projectID string, parentID *string, name string) (store.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	for _, code := range m.codes {
		if code.ProjectID == projectID && code.Name == name && key(code.ParentID) == key(parentID) {
			return code, nil
		}
	}
	return store.Code{}, sql.ErrNoRows
}

func (m *memStore) UpdateCode(ctx context.Context, code store.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.codes[code.ID]
	if !ok {
		return sql.ErrNoRows
	}
	code.CreatedAt = existing.CreatedAt
	m.codes[code.ID] = code
	return nil
}

func (m *memStore) DeleteCode(ctx context.Context, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, codeID)
	return nil
}

func (m *memStore) ListProjectCodes(ctx context.Context, projectID string) ([]store.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Code{}
	for _, code := range m.codes {
		if code.ProjectID == projectID {
			items = append(items, code)
		}
	}
	sort.Slice(items, func(i, j int) bool { return strings.Compare(items[i].Name, items[j].Name) < 0 })
	return items, nil
}

func (m *memStore) CountChildCodes(ctx context.Context, codeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, code := range m.codes {
		if code.ParentID != nil && *code.ParentID == codeID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountCodeUsages(ctx context.Context, codeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, codes := range m.quoteCodes {
		if codes[codeID] {
			count++
		}
	}
	for _, codes := range m.segCodes {
		if codes[codeID] {
			count++
		}
	}
	return count, nil
}

// Code links

func linkInto(table map[string]map[string]bool, fromID, toID string) bool {
	if table[fromID] == nil {
		table[fromID] = map[string]bool{}
	}
	if table[fromID][toID] {
		return false
	}
	table[fromID][toID] = true
	return true
}

func (m *memStore) LinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return linkInto(m.quoteCodes, quoteID, codeID), nil
}

func (m *memStore) UnlinkQuoteCode(ctx context.Context, quoteID, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.quoteCodes[quoteID][codeID] {
		return false, nil
	}
	delete(m.quoteCodes[quoteID], codeID)
	return true, nil
}

func (m *memStore) LinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return linkInto(m.segCodes, segmentID, codeID), nil
}

func (m *memStore) UnlinkSegmentCode(ctx context.Context, segmentID, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.segCodes[segmentID][codeID] {
		return false, nil
	}
	delete(m.segCodes[segmentID], codeID)
	return true, nil
}

func (m *memStore) ListSegmentCodes(ctx context.Context, segmentID string) ([]store.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Code{}
	for codeID := range m.segCodes[segmentID] {
		if code, ok := m.codes[codeID]; ok {
			items = append(items, code)
		}
	}
	sortByOrder(m.order, items, func(c store.Code) string { return c.ID })
	return items, nil
}

func (m *memStore) ListCodeSegments(ctx context.Context, codeID string) ([]store.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Segment{}
	for segmentID, codes := range m.segCodes {
		if codes[codeID] {
			if segment, ok := m.segments[segmentID]; ok {
				items = append(items, segment)
			}
		}
	}
	sortByOrder(m.order, items, func(s store.Segment) string { return s.ID })
	return items, nil
}

// Annotations

func (m *memStore) InsertAnnotation(ctx context.Context, annotation store.Annotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	annotation.CreatedAt = m.stamp(annotation.ID)
	m.annotations[annotation.ID] = annotation
	return nil
}

func (m *memStore) GetAnnotation(ctx context.Context, annotationID string) (store.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	annotation, ok := m.annotations[annotationID]
	if !ok {
		return store.Annotation{}, sql.ErrNoRows
	}
	return annotation, nil
}

func (m *memStore) UpdateAnnotation(ctx context.Context, annotationID, content, annotationType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	annotation, ok := m.annotations[annotationID]
	if !ok {
		return sql.ErrNoRows
	}
	if content != "" {
		annotation.Content = content
	}
	if annotationType != "" {
		annotation.Type = annotationType
	}
	m.annotations[annotationID] = annotation
	return nil
}

func (m *memStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.annotations, annotationID)
	return nil
}

func (m *memStore) ListQuoteAnnotations(ctx context.Context, quoteID string) ([]store.Annotation, error) {
	return m.filterAnnotations(func(a store.Annotation) bool {
		return a.QuoteID != nil && *a.QuoteID == quoteID
	})
}

func (m *memStore) ListSegmentAnnotations(ctx context.Context, segmentID string) ([]store.Annotation, error) {
	return m.filterAnnotations(func(a store.Annotation) bool {
		return a.SegmentID != nil && *a.SegmentID == segmentID
	})
}

func (m *memStore) ListProjectAnnotations(ctx context.Context, projectID, annotationType, createdBy string) ([]store.Annotation, error) {
	return m.filterAnnotations(func(a store.Annotation) bool {
		if a.ProjectID != projectID {
			return false
		}
		if annotationType != "" && a.Type != annotationType {
			return false
		}
		if createdBy != "" && a.CreatedBy != createdBy {
			return false
		}
		return true
	})
}

func (m *memStore) filterAnnotations(keep func(store.Annotation) bool) ([]store.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []store.Annotation{}
	for _, annotation := range m.annotations {
		if keep(annotation) {
			items = append(items, annotation)
		}
	}
	sortByOrder(m.order, items, func(a store.Annotation) string { return a.ID })
	return items, nil
}

// sortByOrder keeps list results deterministic by insertion order, the
// way created_at ordering does in SQL.
func sortByOrder[T any](order map[string]int, items []T, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		return order[id(items[i])] < order[id(items[j])]
	})
}
