package app

import (
	"context"
	"testing"

	"tessera/api/internal/store"
)

// A concurrent writer can create the same code between the name lookup and
// the insert. The insert reports the duplicate without failing the
// transaction, and the caller hands back the winning row.
func TestFindOrCreateCodeRecoversFromLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	winner := store.Code{
		ID:        "code_winner",
		ProjectID: f.project,
		Name:      "Burnout",
		Color:     defaultCodeColor,
		CreatedBy: f.owner,
	}
	f.mem.insertCodeHook = func(store.Code) error {
		if err := f.mem.InsertCode(ctx, winner); err != nil {
			return err
		}
		return store.ErrDuplicate
	}

	code, wasExisting, err := f.svc.FindOrCreateCode(ctx, f.project, "Burnout", f.owner, "", "")
	if err != nil {
		t.Fatalf("find-or-create after lost race: %v", err)
	}
	if !wasExisting {
		t.Fatalf("expected the winning code to be reported as existing")
	}
	if code.ID != winner.ID {
		t.Fatalf("code id = %s, want %s", code.ID, winner.ID)
	}
}

func TestCreateQuoteRecoversFromLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mem.insertQuoteHook = func(attempted store.Quote) error {
		winner := attempted
		winner.ID = "qt_winner"
		if err := f.mem.InsertQuote(ctx, winner); err != nil {
			return err
		}
		return store.ErrDuplicate
	}

	quote, wasExisting, err := f.svc.CreateQuote(ctx, CreateQuoteInput{
		SegmentID: f.segment,
		Text:      "remote work",
		StartChar: intPtr(20),
		EndChar:   intPtr(31),
	}, f.owner)
	if err != nil {
		t.Fatalf("create quote after lost race: %v", err)
	}
	if !wasExisting {
		t.Fatalf("expected the winning quote to be reported as existing")
	}
	if quote.ID != "qt_winner" {
		t.Fatalf("quote id = %s, want qt_winner", quote.ID)
	}
}
