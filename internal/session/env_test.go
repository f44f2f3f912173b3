package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/r254650549/rural-demo/internal/auth"
	"github.com/r254650549/rural-demo/internal/config"
	"github.com/r254650549/rural-demo/internal/services/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T, profile string) *Env {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", "test-key")
	cfg := config.Default()
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "env.db")
	cfg.Profile = profile

	env, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fall back to the configured base URL without a profile", func(t *testing.T) {
		env := testEnv(t, "")

		assert.Nil(t, env.Profile())
		assert.Equal(t, "http://localhost:8098", env.Client().BaseURL())
		assert.Equal(t, DefaultOwner, env.Ledger().Owner())
	})

	t.Run("Should scope the ledger to the profile user after reload", func(t *testing.T) {
		env := testEnv(t, "field")

		_, err := auth.SaveProfile(ctx, env.DB, "field", "https://imagery.example.org/", "amina", "secret")
		require.NoError(t, err)
		require.NoError(t, env.Reload(ctx))

		require.NotNil(t, env.Profile())
		assert.Equal(t, "https://imagery.example.org", env.Client().BaseURL())
		assert.Equal(t, "amina", env.Ledger().Owner())
	})

	t.Run("Should hand out independent idle sessions", func(t *testing.T) {
		env := testEnv(t, "")
		sink := workflow.SinkFunc(func(workflow.Notification) {})

		first, err := env.Sessions(sink)(ctx)
		require.NoError(t, err)
		second := env.NewSession(ctx, sink)

		assert.NotEqual(t, first.SessionID(), second.SessionID())
		assert.Equal(t, workflow.PhaseIdle, first.State().Phase)
	})

	t.Run("Should switch profiles while the scheduler opens sessions", func(t *testing.T) {
		env := testEnv(t, "")
		_, err := auth.SaveProfile(ctx, env.DB, "field", "https://imagery.example.org/", "amina", "secret")
		require.NoError(t, err)
		sessions := env.Sessions(workflow.SinkFunc(func(workflow.Notification) {}))

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					wf, err := sessions(ctx)
					assert.NoError(t, err)
					assert.NotNil(t, wf)
				}
			}()
		}
		for _, name := range []string{"field", "", "field"} {
			require.NoError(t, env.SelectProfile(ctx, name))
		}
		wg.Wait()

		require.NotNil(t, env.Profile())
		assert.Equal(t, "field", env.Profile().Name)
		assert.Equal(t, "amina", env.Ledger().Owner())
	})
}
