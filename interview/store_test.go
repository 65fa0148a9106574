package interview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/mockinterview/dbopen"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestStore_CreateGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.Create(ctx, Session{JobTitle: "Backend Engineer", Company: "Acme", ResumeText: "Jane Doe"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, SessionPrefix) {
		t.Errorf("id = %q", id)
	}
	s, err := st.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if s.JobTitle != "Backend Engineer" || s.Company != "Acme" || s.ResumeText != "Jane Doe" || s.Status != StatusActive {
		t.Errorf("session = %+v", s)
	}
}

func TestStore_GetMissing(t *testing.T) {
	if _, err := newTestStore(t).Get(context.Background(), "sess_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_TranscriptOrder(t *testing.T) {
	// WHAT: Turns come back in the order they were appended, numbered from 1.
	// WHY: The model sees the transcript in this order; a shuffle would garble the interview.
	st := newTestStore(t)
	ctx := context.Background()
	id, _ := st.Create(ctx, Session{JobTitle: "PM", ResumeText: "cv"})

	contents := []string{"Q1", "A1", "Q2"}
	for i, c := range contents {
		role := RoleInterviewer
		if i%2 == 1 {
			role = RoleCandidate
		}
		seq, err := st.AppendTurn(ctx, id, Turn{Role: role, Content: c})
		if err != nil {
			t.Fatal(err)
		}
		if seq != i+1 {
			t.Errorf("seq = %d, want %d", seq, i+1)
		}
	}

	turns, err := st.Transcript(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d", len(turns))
	}
	for i, turn := range turns {
		if turn.Content != contents[i] || turn.Seq != i+1 {
			t.Errorf("turn %d = %+v", i, turn)
		}
	}
	if turns[1].Role != RoleCandidate {
		t.Errorf("turn 2 role = %q", turns[1].Role)
	}
}

func TestStore_AppendToMissing(t *testing.T) {
	_, err := newTestStore(t).AppendTurn(context.Background(), "sess_missing", Turn{Role: RoleCandidate, Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Finish(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id, _ := st.Create(ctx, Session{JobTitle: "PM", ResumeText: "cv"})

	if err := st.Finish(ctx, id, "Solid answers. 7/10"); err != nil {
		t.Fatal(err)
	}
	s, _ := st.Get(ctx, id)
	if s.Status != StatusFinished || s.Evaluation != "Solid answers. 7/10" {
		t.Errorf("session = %+v", s)
	}
	if err := st.Finish(ctx, id, "again"); !errors.Is(err, ErrFinished) {
		t.Errorf("second Finish err = %v, want ErrFinished", err)
	}
	if _, err := st.AppendTurn(ctx, id, Turn{Role: RoleCandidate, Content: "late"}); !errors.Is(err, ErrFinished) {
		t.Errorf("append after finish err = %v, want ErrFinished", err)
	}
}

func TestStore_AppendTurnsAndFinishWithTurns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id, _ := st.Create(ctx, Session{JobTitle: "PM", ResumeText: "cv"})

	seq, err := st.AppendTurns(ctx, id,
		Turn{Role: RoleInterviewer, Content: "Q1"},
		Turn{Role: RoleCandidate, Content: "A1"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("last seq = %d, want 2", seq)
	}
	if err := st.Finish(ctx, id, "7/10", Turn{Role: RoleCandidate, Content: "A2"}); err != nil {
		t.Fatal(err)
	}
	turns, _ := st.Transcript(ctx, id)
	if len(turns) != 3 || turns[2].Seq != 3 || turns[2].Content != "A2" {
		t.Errorf("turns = %+v", turns)
	}
	if _, err := st.AppendTurns(ctx, id, Turn{Role: RoleCandidate, Content: "late"}); !errors.Is(err, ErrFinished) {
		t.Errorf("append after finish err = %v, want ErrFinished", err)
	}
}
