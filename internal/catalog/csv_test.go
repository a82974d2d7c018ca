package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMapRow_ShortRow(t *testing.T) {
	result := MapRow([]string{"Name", " URL ", "Industry"}, []string{"Acme Corp"})
	assert.Equal(t, "Acme Corp", result["name"])
	assert.Equal(t, "", result["url"])
	assert.Equal(t, "", result["industry"])
}

func TestReadProfiles(t *testing.T) {
	in := "Company Name,Website,Industry,Confidence\n" +
		"Acme Corp.,https://www.acme.com/about,Logistics,80\n" +
		"Beta Inc,,,\n" +
		",https://nameless.io,SaaS,\n"

	got, err := ReadProfiles(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Acme Corp.", got[0].CompanyName)
	assert.Equal(t, "acme", got[0].NormalizedName)
	assert.Equal(t, "acme.com", got[0].Domain())
	assert.Equal(t, "Logistics", got[0].IndustryName())
	assert.InDelta(t, 80, got[0].OverallConfidenceScore, 1e-9)
	assert.InDelta(t, 100, got[0].DataCompletenessScore, 1e-9)

	assert.Nil(t, got[1].PrimaryDomain)
	assert.Nil(t, got[1].Industry)
	assert.InDelta(t, 50, got[1].DataCompletenessScore, 1e-9)
	assert.Equal(t, model.ValidationUnvalidated, got[1].ValidationStatus)
}

func TestReadProfiles_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no name column", "Domain,Industry\nacme.com,SaaS\n", "no name column"},
		{"bad confidence", "Name,Confidence\nAcme,high\n", "confidence"},
		{"confidence out of range", "Name,Confidence\nAcme,120\n", "confidence"},
		{"bad status", "Name,Status\nAcme,approved\n", "validation status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadProfiles(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadProfiles_HeaderOnly(t *testing.T) {
	got, err := ReadProfiles(strings.NewReader("Name,Domain\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImportCSV_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	path := writeTempCSV(t, "Name,Domain,Status\nAcme Corp,acme.com,validated\nGlobex,globex.io,\n")
	n, err := ImportCSV(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := st.FindProfilesByDomain(ctx, "acme.com", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, model.ValidationValidated, found[0].ValidationStatus)

	// re-import updates in place
	path = writeTempCSV(t, "Name,Domain,Industry\nACME corp,acme.com,Freight\n")
	_, err = ImportCSV(ctx, st, path)
	require.NoError(t, err)
	found, err = st.FindProfilesByNormalizedName(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Freight", found[0].IndustryName())
}

func TestImportCSV_MissingFile(t *testing.T) {
	_, err := ImportCSV(context.Background(), nil, filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
