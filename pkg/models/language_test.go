package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLanguagesAreValidAndActive(t *testing.T) {
	langs, err := DefaultLanguages()
	require.NoError(t, err)
	require.NotEmpty(t, langs)

	codes := make(map[string]bool)
	for _, l := range langs {
		assert.True(t, l.IsActive)
		assert.NotEmpty(t, l.Name)
		codes[l.Code] = true
	}
	assert.True(t, codes["en"])
}

func TestValidateLanguageCode(t *testing.T) {
	assert.NoError(t, ValidateLanguageCode("en"))
	assert.NoError(t, ValidateLanguageCode("en-US"))
	assert.Error(t, ValidateLanguageCode(""))
	assert.Error(t, ValidateLanguageCode("not a tag!!"))
}
