// Package sessiontest holds behavior checks shared by session.Store
// implementations.
package sessiontest

import (
	"context"
	"testing"
	"time"

	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/session"
)

// RunStoreTests checks the contract every session.Store must satisfy.
func RunStoreTests(t *testing.T, store session.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("unknown id", func(t *testing.T) {
		got, err := store.GetSession(ctx, "missing")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for unknown id, got %+v", got)
		}
	})

	t.Run("create get append delete", func(t *testing.T) {
		s := &model.FeedbackSession{
			ID:             "sess-1",
			OriginFeedback: "Mostly right.",
			TeacherScript:  "teacher",
			StudentScript:  "student",
			Turns:          []model.ChatTurn{},
			CreatedAt:      now,
			ExpiresAt:      now.Add(time.Hour),
		}
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		err := store.AppendTurns(ctx, s.ID,
			model.ChatTurn{Role: model.RoleUser, Text: "why?", At: now},
			model.ChatTurn{Role: model.RoleAssistant, Text: "because", At: now},
		)
		if err != nil {
			t.Fatalf("AppendTurns: %v", err)
		}
		err = store.AppendTurns(ctx, s.ID,
			model.ChatTurn{Role: model.RoleUser, Text: "and?", At: now},
			model.ChatTurn{Role: model.RoleAssistant, Text: "that is all", At: now},
		)
		if err != nil {
			t.Fatalf("AppendTurns: %v", err)
		}

		got, err := store.GetSession(ctx, s.ID)
		if err != nil || got == nil {
			t.Fatalf("GetSession = %v, %v", got, err)
		}
		if got.OriginFeedback != s.OriginFeedback || got.TeacherScript != "teacher" || got.StudentScript != "student" {
			t.Errorf("session fields not preserved: %+v", got)
		}
		if !got.ExpiresAt.Equal(s.ExpiresAt) {
			t.Errorf("expires_at = %v, want %v", got.ExpiresAt, s.ExpiresAt)
		}
		wantTexts := []string{"why?", "because", "and?", "that is all"}
		if len(got.Turns) != len(wantTexts) {
			t.Fatalf("got %d turns, want %d", len(got.Turns), len(wantTexts))
		}
		for i, w := range wantTexts {
			if got.Turns[i].Text != w {
				t.Errorf("turn %d = %q, want %q", i, got.Turns[i].Text, w)
			}
		}
		if got.Turns[0].Role != model.RoleUser || got.Turns[1].Role != model.RoleAssistant {
			t.Errorf("roles out of order: %v %v", got.Turns[0].Role, got.Turns[1].Role)
		}

		if err := store.DeleteSession(ctx, s.ID); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		got, err = store.GetSession(ctx, s.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got != nil {
			t.Error("session should be gone after delete")
		}
	})

	t.Run("append to unknown", func(t *testing.T) {
		err := store.AppendTurns(ctx, "missing", model.ChatTurn{Role: model.RoleUser, Text: "hi", At: now})
		if !model.IsUnknownSession(err) {
			t.Errorf("err = %v, want *UnknownSessionError", err)
		}
	})
}
