package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/r254650549/rural-demo/internal/crypto"
	"github.com/r254650549/rural-demo/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "auth-test-key")
	require.NoError(t, crypto.InitEncryption())

	db, err := database.Open("sqlite://"+filepath.Join(t.TempDir(), "auth.db"), "")
	require.NoError(t, err)
	return db
}

type failingProvider struct{ err error }

func (f failingProvider) Token(ctx context.Context) (string, error) { return "", f.err }

func TestStaticAndEnvProviders(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return the static token", func(t *testing.T) {
		token, err := StaticProvider("abc").Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abc", token)
	})

	t.Run("Should report a blank static token as missing", func(t *testing.T) {
		_, err := StaticProvider("  ").Token(ctx)
		assert.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("Should read the default environment key", func(t *testing.T) {
		t.Setenv(DefaultEnvKey, "from-env")
		token, err := EnvProvider{}.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "from-env", token)
	})

	t.Run("Should report a missing environment key", func(t *testing.T) {
		t.Setenv("RURAL_TEST_EMPTY_TOKEN", "")
		_, err := EnvProvider{Key: "RURAL_TEST_EMPTY_TOKEN"}.Token(ctx)
		assert.ErrorIs(t, err, ErrNoCredential)
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("Should skip providers without credentials", func(t *testing.T) {
		chain := Chain{StaticProvider(""), StaticProvider("second")}
		token, err := chain.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "second", token)
	})

	t.Run("Should stop on a real error", func(t *testing.T) {
		boom := errors.New("keychain locked")
		chain := Chain{failingProvider{err: boom}, StaticProvider("never")}
		_, err := chain.Token(ctx)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Should return ErrNoCredential when all are empty", func(t *testing.T) {
		_, err := Chain{StaticProvider("")}.Token(ctx)
		assert.ErrorIs(t, err, ErrNoCredential)
	})
}

func TestProfileProvider(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	t.Run("Should decrypt the saved token", func(t *testing.T) {
		profile, err := SaveProfile(ctx, db, "field", "http://imagery.local:8098/", "operator", "secret-token")
		require.NoError(t, err)
		assert.Equal(t, "http://imagery.local:8098", profile.BaseURL)
		assert.NotEqual(t, "secret-token", profile.TokenEnc)

		token, err := NewProfileProvider(db, "field").Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", token)
	})

	t.Run("Should keep the token when updating without one", func(t *testing.T) {
		_, err := SaveProfile(ctx, db, "field", "http://other:8098", "operator2", "")
		require.NoError(t, err)

		token, err := NewProfileProvider(db, "field").Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "secret-token", token)

		loaded, err := LoadProfile(ctx, db, "field")
		require.NoError(t, err)
		assert.Equal(t, "operator2", loaded.Username)
	})

	t.Run("Should map an unknown profile to ErrNoCredential", func(t *testing.T) {
		_, err := NewProfileProvider(db, "nobody").Token(ctx)
		assert.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("Should validate required fields", func(t *testing.T) {
		_, err := SaveProfile(ctx, db, "", "http://x", "u", "t")
		assert.Error(t, err)
	})
}
