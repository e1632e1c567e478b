package scoring

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrow-realty/listings-cli/internal/model"
)

func TestKeywordMatcher_ExactPhrase(t *testing.T) {
	m := NewKeywordMatcher()
	listing := model.Listing{Description: "Spacious home with open floor plan and pool."}

	res, err := m.Match(context.Background(), "open floor plan", listing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestKeywordMatcher_Synonym(t *testing.T) {
	m := NewKeywordMatcher()
	listing := model.Listing{Description: "Includes covered parking and a fenced yard."}

	// "garage" itself never appears, but "covered parking" is in its set.
	res, err := m.Match(context.Background(), "needs a two-car garage", listing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)

	res, err = m.Match(context.Background(), "big backyard", listing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestKeywordMatcher_PartialMatch(t *testing.T) {
	m := NewKeywordMatcher()
	listing := model.Listing{Description: "Bright corner unit with southern exposure."}

	res, err := m.Match(context.Background(), "bright corner office", listing)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Score)
}

func TestKeywordMatcher_NoMatch(t *testing.T) {
	m := NewKeywordMatcher()
	listing := model.Listing{Description: "Cozy bungalow."}

	res, err := m.Match(context.Background(), "rooftop terrace", listing)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
}

func TestKeywordMatcher_EmptyInputs(t *testing.T) {
	m := NewKeywordMatcher()

	res, err := m.Match(context.Background(), "  ", model.Listing{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)

	res, err = m.Match(context.Background(), "garage", model.Listing{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
	assert.Contains(t, res.Reason, "no listing text")
}

func TestNewKeywordMatcherFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synonyms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solar:\n  - solar panels\n  - photovoltaic\n"), 0o644))

	m, err := NewKeywordMatcherFromFile(path)
	require.NoError(t, err)

	listing := model.Listing{Description: "Recently fitted photovoltaic system on the roof."}
	res, err := m.Match(context.Background(), "solar power", listing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)

	// Defaults survive the merge.
	listing = model.Listing{Description: "Includes covered parking."}
	res, err = m.Match(context.Background(), "garage", listing)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestNewKeywordMatcherFromFile_Missing(t *testing.T) {
	_, err := NewKeywordMatcherFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
