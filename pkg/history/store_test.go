package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/history"
	historymock "github.com/antiphonlabs/antiphon/pkg/history/mock"
	embedmock "github.com/antiphonlabs/antiphon/pkg/provider/embeddings/mock"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

func entry(speaker types.Speaker, text string) types.TranscriptEntry {
	return types.TranscriptEntry{
		Speaker:      speaker,
		Text:         text,
		Timestamp:    time.Now(),
		TurnID:       1,
		SegmentIndex: types.NoSegment,
	}
}

func TestRecaller_ArchiveEmbedsConversationalEntries(t *testing.T) {
	t.Parallel()

	store := historymock.NewStore()
	embedder := &embedmock.Service{EmbedResult: []float32{1, 0, 0}}
	r, err := history.NewRecaller(store, embedder)
	if err != nil {
		t.Fatalf("NewRecaller: %v", err)
	}

	if err := r.Archive(context.Background(), "s1", entry(types.SpeakerUser, "hello")); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(embedder.EmbedCalls) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(embedder.EmbedCalls))
	}
	if store.Len() != 1 {
		t.Fatalf("store holds %d records, want 1", store.Len())
	}
}

func TestRecaller_ArchiveSkipsEmbeddingForSystemLines(t *testing.T) {
	t.Parallel()

	store := historymock.NewStore()
	embedder := &embedmock.Service{EmbedResult: []float32{1, 0, 0}}
	r, err := history.NewRecaller(store, embedder)
	if err != nil {
		t.Fatalf("NewRecaller: %v", err)
	}

	if err := r.Archive(context.Background(), "s1", entry(types.SpeakerSystem, "notice")); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(embedder.EmbedCalls) != 0 {
		t.Fatalf("embedder called %d times for a system line, want 0", len(embedder.EmbedCalls))
	}
	if store.Len() != 1 {
		t.Fatal("system line was not archived")
	}
}

func TestRecaller_RecallRanksBySimilarity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := historymock.NewStore()

	// Two embedded entries along different axes.
	if err := store.Append(ctx, "s1", entry(types.SpeakerUser, "about dogs"), []float32{1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s1", entry(types.SpeakerAgent, "about cars"), []float32{0, 1, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Other session must never surface.
	if err := store.Append(ctx, "s2", entry(types.SpeakerUser, "about dogs too"), []float32{1, 0, 0}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	embedder := &embedmock.Service{EmbedResult: []float32{1, 0, 0}}
	r, err := history.NewRecaller(store, embedder)
	if err != nil {
		t.Fatalf("NewRecaller: %v", err)
	}

	lines, err := r.Recall(ctx, "s1", "tell me about dogs", 1)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("Recall returned %d lines, want 1", len(lines))
	}
	if lines[0] != "user: about dogs" {
		t.Fatalf("Recall returned %q, want the closest entry", lines[0])
	}
}

func TestRecaller_RecallEmptyQueryIsNoop(t *testing.T) {
	t.Parallel()

	store := historymock.NewStore()
	embedder := &embedmock.Service{EmbedResult: []float32{1}}
	r, err := history.NewRecaller(store, embedder)
	if err != nil {
		t.Fatalf("NewRecaller: %v", err)
	}

	lines, err := r.Recall(context.Background(), "s1", "", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if lines != nil {
		t.Fatalf("Recall of empty query returned %v, want nil", lines)
	}
	if len(embedder.EmbedCalls) != 0 {
		t.Fatal("empty query must not hit the embedder")
	}
}

func TestMockStore_RecentReturnsNewestWindowInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := historymock.NewStore()
	for _, text := range []string{"one", "two", "three"} {
		if err := store.Append(ctx, "s1", entry(types.SpeakerUser, text), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("Recent = %+v, want the newest two in chronological order", got)
	}
}

func TestMockStore_SearchIgnoresUnembedded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := historymock.NewStore()
	if err := store.Append(ctx, "s1", entry(types.SpeakerSystem, "notice"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	hits, err := store.Search(ctx, history.Query{SessionID: "s1", Embedding: []float32{1}, TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Search returned %d hits for unembedded entries, want 0", len(hits))
	}
}
