package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLineDetectsCJKHallucination(t *testing.T) {
	issue := validateLine("Hello there", "こんにちは", "en", "de")
	require.NotNil(t, issue)
	assert.Equal(t, "hallucination", issue.Reason)

	issue = validateLine("Hello there", "你好世界", "en", "de")
	require.NotNil(t, issue)
	assert.Equal(t, "hallucination", issue.Reason)
}

func TestValidateLineAllowsCJKTargets(t *testing.T) {
	assert.Nil(t, validateLine("Hello", "こんにちは", "en", "ja"))
	assert.Nil(t, validateLine("Hello", "你好", "en", "zh"))
}

func TestValidateLineDetectsPassthrough(t *testing.T) {
	issue := validateLine("What do you have with the dog?", "What do you have with the dog?", "en", "de")
	require.NotNil(t, issue)
	assert.Equal(t, "passthrough", issue.Reason)
}

func TestValidateLineAllowsSharedWords(t *testing.T) {
	// A short interjection without English stopwords may survive
	// translation unchanged.
	assert.Nil(t, validateLine("Okay!", "Okay!", "en", "de"))
}

func TestValidateLineCleanTranslation(t *testing.T) {
	assert.Nil(t, validateLine("Hello, world", "Hallo, Welt", "en", "de"))
}

func TestLengthRatioSuspicious(t *testing.T) {
	assert.False(t, lengthRatioSuspicious("hello world", "hallo welt"))
	assert.True(t, lengthRatioSuspicious("hello world again my friend", "oi"))
	assert.True(t, lengthRatioSuspicious("hi", "this translation is far too long to be plausible for the source"))
	assert.False(t, lengthRatioSuspicious("", "anything"))
}
