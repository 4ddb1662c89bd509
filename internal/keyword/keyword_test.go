package keyword

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lowercases and splits", "Oil Pressure LOW", []string{"oil", "pressure", "low"}},
		{"strips punctuation", "tighten, then check.", []string{"tighten", "then", "check"}},
		{"keeps interior hyphen", "code DF025-2 present", []string{"code", "df025-2", "present"}},
		{"drops pure punctuation", "a - b", []string{"a", "b"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_Search(t *testing.T) {
	idx := New()
	idx.Add("doc1_parent_0_child_0", "oil pump removal procedure torque values")
	idx.Add("doc1_parent_1_child_0", "coolant circuit bleeding after refill")
	idx.Add("doc1_parent_2_child_0", "fault code DF025 injector circuit open")

	t.Run("exact code match ranks first", func(t *testing.T) {
		results := idx.Search("what does DF025 mean", 10)
		require.NotEmpty(t, results)
		assert.Equal(t, "doc1_parent_2_child_0", results[0].ID)
	})

	t.Run("topK truncates", func(t *testing.T) {
		results := idx.Search("circuit", 1)
		assert.Len(t, results, 1)
	})

	t.Run("unknown terms return nil", func(t *testing.T) {
		assert.Nil(t, idx.Search("transmission gearbox", 10))
	})

	t.Run("empty query returns nil", func(t *testing.T) {
		assert.Nil(t, idx.Search("", 10))
	})
}

func TestIndex_Search_RepeatedTermOutranksSingle(t *testing.T) {
	idx := New()
	idx.Add("a", "brake pads brake discs brake fluid")
	idx.Add("b", "brake lamp switch adjustment and clutch pedal")

	results := idx.Search("brake", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestIndex_Search_TieBreakByID(t *testing.T) {
	idx := New()
	idx.Add("b", "alternator belt")
	idx.Add("a", "alternator belt")

	results := idx.Search("alternator", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
}

func TestIndex_AddReplaces(t *testing.T) {
	idx := New()
	idx.Add("a", "old content about oil")
	idx.Add("a", "new content about coolant")

	assert.Equal(t, 1, idx.Len())
	assert.Nil(t, idx.Search("oil", 10))
	assert.NotEmpty(t, idx.Search("coolant", 10))
}

func TestIndex_Remove(t *testing.T) {
	idx := New()
	idx.Add("a", "oil pump")
	idx.Add("b", "oil filter")

	idx.Remove("a")
	assert.Equal(t, 1, idx.Len())
	results := idx.Search("oil", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	idx.Remove("missing") // no-op
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_RemoveByPrefix(t *testing.T) {
	idx := New()
	idx.Add("aaaa1111_parent_0_child_0", "oil pump")
	idx.Add("aaaa1111_parent_0_child_1", "oil filter")
	idx.Add("bbbb2222_parent_0_child_0", "oil cooler")

	removed := idx.RemoveByPrefix("aaaa1111")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, idx.Len())

	results := idx.Search("oil", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "bbbb2222_parent_0_child_0", results[0].ID)
}

func TestIndex_Clear(t *testing.T) {
	idx := New()
	idx.Add("a", "oil pump")
	idx.Clear()
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Search("oil", 10))
}

type sliceSource []struct{ id, text string }

func (s sliceSource) EachChunk(_ context.Context, fn func(id, text string) error) error {
	for _, c := range s {
		if err := fn(c.id, c.text); err != nil {
			return err
		}
	}
	return nil
}

type failingSource struct{}

func (failingSource) EachChunk(context.Context, func(string, string) error) error {
	return errors.New("connection reset")
}

func TestIndex_Rebuild(t *testing.T) {
	idx := New()
	idx.Add("stale", "stale entry")

	n, err := idx.Rebuild(context.Background(), sliceSource{
		{"a", "oil pump"},
		{"b", "coolant hose"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, idx.Len())
	assert.Nil(t, idx.Search("stale", 10))
	assert.NotEmpty(t, idx.Search("coolant", 10))
}

func TestIndex_Rebuild_ErrorClearsIndex(t *testing.T) {
	idx := New()
	idx.Add("a", "oil pump")

	_, err := idx.Rebuild(context.Background(), failingSource{})
	require.Error(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.idx")

	idx := New()
	idx.Add("a", "oil pump removal")
	idx.Add("b", "fault code DF025")
	require.NoError(t, idx.Save(path))

	restored := New()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, idx.Len(), restored.Len())
	want := idx.Search("DF025", 10)
	got := restored.Search("DF025", 10)
	require.Len(t, got, len(want))
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.InDelta(t, want[0].Score, got[0].Score, 1e-12)
}

func TestIndex_Load_NoSnapshot(t *testing.T) {
	idx := New()
	err := idx.Load(filepath.Join(t.TempDir(), "missing.idx"))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
