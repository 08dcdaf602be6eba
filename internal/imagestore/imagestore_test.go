package imagestore

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewStorageKey(t *testing.T) {
	t.Parallel()

	batchID, entryID := uuid.New(), uuid.New()
	key := NewStorageKey(batchID, entryID, "Front Label.JPG")

	assert.True(t, strings.HasPrefix(key, "batches/"+batchID.String()+"/entries/"+entryID.String()+"/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.NoError(t, ValidateKey(key))

	other := NewStorageKey(batchID, entryID, "Front Label.JPG")
	assert.NotEqual(t, key, other)

	noExt := NewStorageKey(batchID, entryID, "photo")
	assert.False(t, strings.Contains(noExt[strings.LastIndex(noExt, "/"):], "."))
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "  ", "/etc/passwd", "a/../../b", "a\\b"} {
		assert.ErrorIs(t, ValidateKey(bad), ErrInvalidKey, bad)
	}
	assert.NoError(t, ValidateKey("batches/x/entries/y/z.png"))
}

func TestReferenceConstructors(t *testing.T) {
	t.Parallel()

	u := URLReference("https://example.com/a.jpg", "image/jpeg")
	assert.Equal(t, KindURL, u.Kind)
	assert.Equal(t, "url", u.Kind.String())
	assert.Nil(t, u.Data)

	b := BytesReference([]byte{1, 2}, "image/png")
	assert.Equal(t, KindBytes, b.Kind)
	assert.Equal(t, "bytes", b.Kind.String())
	assert.Empty(t, b.URL)
}
