package titlenorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "kimetsu no yaiba", CleanTitle("Kimetsu no Yaiba (Sub Indo)"))
	assert.Equal(t, "one piece", CleanTitle("One Piece [Batch]"))
	assert.Equal(t, "jujutsu kaisen", CleanTitle("Jujutsu Kaisen: Nonton Anime"))
}

func TestCleanTitle_AffixInsideAWordSurvives(t *testing.T) {
	assert.Equal(t, "legendary hero", CleanTitle("Legendary Hero"))
	assert.Equal(t, "batchelor days", CleanTitle("Batchelor Days"))
}

func TestNormaliseSeason(t *testing.T) {
	assert.Equal(t, "attack on titan part 2", NormaliseSeason("attack on titan 2nd season"))
	assert.Equal(t, "attack on titan part 2", NormaliseSeason("attack on titan season 2"))
	assert.Equal(t, "attack on titan part 2", NormaliseSeason("attack on titan cour 2"))
	assert.Equal(t, "attack on titan part 2", NormaliseSeason("attack on titan s2"))
	assert.Equal(t, "one piece", NormaliseSeason("one piece"))
}

func TestCanonicalSlug(t *testing.T) {
	assert.Equal(t, "attack-on-titan-part-2", CanonicalSlug("Attack on Titan 2nd Season (Sub Indo)"))
}

func TestSimilarity_IdenticalIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("One Piece", "One Piece"))
}

func TestSimilarity_EmptyEmptyIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
}

func TestSimilarity_InZeroOneRange(t *testing.T) {
	s := Similarity("Jujutsu Kaisen", "Jujutsu Kaisen 2")
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}

func TestSimilarity_Symmetric(t *testing.T) {
	a, b := "Demon Slayer", "Kimetsu no Yaiba"
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("abc", "abc"))
	assert.Equal(t, 3, LevenshteinDistance("abc", ""))
	assert.Equal(t, 1, LevenshteinDistance("cat", "bat"))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
}
