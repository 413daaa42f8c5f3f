package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravenpi/huddle/internal/models"
)

func TestDirectory_SaveLoad(t *testing.T) {
	d := New(t.TempDir())

	require.NoError(t, d.Save(models.User{ID: "42", Username: "bob", Online: true}))

	u, err := d.Load("bob")
	require.NoError(t, err)
	assert.Equal(t, models.ID("42"), u.ID)
	assert.True(t, u.Online)

	_, err = d.Load("nobody")
	assert.Error(t, err)
	assert.Error(t, d.Save(models.User{ID: "1"}))
}

func TestDirectory_Lookups(t *testing.T) {
	d := New(t.TempDir())
	require.NoError(t, d.Remember(
		models.User{ID: "42", Username: "bob"},
		models.User{ID: "43", Username: "carol"},
		models.User{Username: "no-id"},
	))

	users, err := d.List()
	require.NoError(t, err)
	assert.Len(t, users, 2)

	bob, ok := d.ByID("42")
	require.True(t, ok)
	assert.Equal(t, "bob", bob.Username)

	carol, ok := d.ByUsername("carol")
	require.True(t, ok)
	assert.Equal(t, models.ID("43"), carol.ID)

	assert.Equal(t, "bob", d.NameOf("42"))
	assert.Empty(t, d.NameOf("99"))
}

// Tests that files written behind the cache appear only after Invalidate.
func TestDirectory_Invalidate(t *testing.T) {
	d := New(t.TempDir())
	_, err := d.List()
	require.NoError(t, err)

	data := []byte("id: \"7\"\nusername: alice\nonline: false\n")
	require.NoError(t, os.WriteFile(filepath.Join(d.Dir(), "alice.yml"), data, 0644))

	_, ok := d.ByUsername("alice")
	assert.False(t, ok)

	d.Invalidate()
	alice, ok := d.ByUsername("alice")
	require.True(t, ok)
	assert.Equal(t, models.ID("7"), alice.ID)
}

func Test_sanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c-d", sanitizeFilename(" a/b\\c:d "))
}
