package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct {
	vocab []string
	calls atomic.Int32
	fail  bool
}

func (e *keywordEmbedder) Name() string  { return "keyword" }
func (e *keywordEmbedder) Model() string { return "keyword-v1" }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(e.vocab))
		lower := strings.ToLower(t)
		for j, w := range e.vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

func newTestStore(t *testing.T, emb Embedder) *Store {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "kb.db")
	db, err := database.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, emb, ChunkConfig{MaxChars: 200, Overlap: -1}, nil)
}

func TestStore_IndexAndRetrieve(t *testing.T) {
	t.Parallel()
	emb := &keywordEmbedder{vocab: []string{"sleep", "posture", "water"}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	_, err := s.IndexDocument(ctx, "sleep.md", "Adults need seven hours of sleep. Good sleep helps recovery.")
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, "desk.md", "Keep a neutral posture at the desk. Posture breaks every hour.")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())

	got, err := s.Retrieve(ctx, "how much sleep do I need", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sleep.md", got[0].Source)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	none, err := s.Retrieve(ctx, "drink water", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ReindexReusesEmbeddings(t *testing.T) {
	t.Parallel()
	emb := &keywordEmbedder{vocab: []string{"sleep"}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	_, err := s.IndexDocument(ctx, "a.md", "sleep well")
	require.NoError(t, err)
	before := emb.calls.Load()

	_, err = s.IndexDocument(ctx, "a.md", "sleep well")
	require.NoError(t, err)
	assert.Equal(t, before, emb.calls.Load())
	assert.Equal(t, 1, s.Count())
}

func TestStore_LoadFromDatabase(t *testing.T) {
	t.Parallel()
	emb := &keywordEmbedder{vocab: []string{"sleep"}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	_, err := s.IndexDocument(ctx, "a.md", "sleep")
	require.NoError(t, err)

	fresh := NewStore(s.db, emb, ChunkConfig{}, nil)
	assert.Equal(t, 0, fresh.Count())
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, 1, fresh.Count())
}

func TestStore_RetrieveEmbedFailure(t *testing.T) {
	t.Parallel()
	emb := &keywordEmbedder{vocab: []string{"sleep"}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	_, err := s.IndexDocument(ctx, "a.md", "sleep")
	require.NoError(t, err)

	emb.fail = true
	_, err = s.Retrieve(ctx, "sleep", 2)
	assert.Error(t, err)
}

func TestStore_NullEmbedder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, &NullEmbedder{})
	got, err := s.Retrieve(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.IndexDocument(context.Background(), "a.md", "text")
	assert.Error(t, err)
}

func TestStore_ImportPath(t *testing.T) {
	t.Parallel()
	emb := &keywordEmbedder{vocab: []string{"sleep", "water"}}
	s := newTestStore(t, emb)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("sleep matters"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"),
		[]byte(`{"source":"hydration","text":"drink water"}`+"\n\n"+`{"text":"more water"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0, 1}, 0o644))

	n, err := s.ImportPath(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, s.Count())

	got, err := s.Retrieve(context.Background(), "water", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	paras := []string{strings.Repeat("a", 80), strings.Repeat("b", 80), strings.Repeat("c", 80)}
	chunks := SplitText("doc", strings.Join(paras, "\n\n"), ChunkConfig{MaxChars: 200, Overlap: -1})
	require.Len(t, chunks, 2)
	assert.Equal(t, paras[0]+"\n\n"+paras[1], chunks[0].Text)
	assert.Equal(t, paras[2], chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Index)
	assert.NotEqual(t, chunks[0].Hash, chunks[1].Hash)

	long := SplitText("doc", strings.Repeat("x", 450), ChunkConfig{MaxChars: 200, Overlap: -1})
	require.Len(t, long, 3)
	assert.Len(t, long[2].Text, 50)

	overlapped := SplitText("doc", strings.Join(paras, "\n\n"), ChunkConfig{MaxChars: 200, Overlap: 20})
	require.Len(t, overlapped, 2)
	assert.True(t, strings.HasPrefix(overlapped[1].Text, strings.Repeat("b", 20)))

	assert.Empty(t, SplitText("doc", "  \n\n ", ChunkConfig{}))
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1}, []float32{1, 2}, 0},
		{[]float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		if got := cosineSimilarity(tt.a, tt.b); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
