package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-triage/internal/adapters/store"
	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/pipeline"
	"github.com/mikey/mail-triage/internal/service"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuildContainer(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
store:
  type: sqlite
  sqlite_path: `+filepath.Join(dir, "db", "triage.db")+`
rdap:
  base_url: http://127.0.0.1:1
logging:
  output: `+filepath.Join(dir, "triage.log")+`
`)

	container, err := BuildContainer(context.Background(), &CLIFlags{ConfigFile: path})
	require.NoError(t, err)

	err = container.Invoke(func(svc *service.Service, st store.Store, m *metrics.Metrics) {
		require.NotNil(t, st)
		defer st.Close()

		res := svc.Classify(context.Background(), &core.Message{
			ID:      "m1",
			Sender:  "receipts@knownretailer.com",
			Subject: "Your order confirmation",
			Auth:    core.AuthResults{SPF: core.AuthPass, DKIM: core.AuthPass, DMARC: core.AuthPass},
		})
		assert.Equal(t, core.CategoryLegitimate, res.Category)
		assert.Equal(t, pipeline.TierBusinessOverride, res.DecidingTier)
		assert.Equal(t, 1, svc.Remembered())
		assert.Equal(t, 1, testutil.CollectAndCount(m.Classified))

		require.NoError(t, svc.AcceptSession(context.Background(), "m1"))
	})
	require.NoError(t, err)
}

func TestBuildContainerFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  output: `+filepath.Join(dir, "triage.log")+`
`)

	flags := &CLIFlags{ConfigFile: path, TextModel: "gemini", Verbose: true}
	container, err := BuildContainer(context.Background(), flags)
	require.NoError(t, err)

	err = container.Invoke(func(ens *ensemble.Ensemble, st store.Store) {
		assert.Nil(t, st)
		for _, s := range ens.Slots() {
			if s.Name == "text" {
				assert.Error(t, s.LoadErr, "gemini needs an API key")
			}
		}
	})
	require.NoError(t, err)
}

func TestBuildContainerBadConfig(t *testing.T) {
	container, err := BuildContainer(context.Background(), &CLIFlags{
		ConfigFile: filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.NoError(t, err)

	err = container.Invoke(func(*service.Service) {})
	assert.Error(t, err)
}
