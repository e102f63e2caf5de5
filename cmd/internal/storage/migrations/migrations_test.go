package migrations

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://u:p@localhost:5432/db?sslmode=disable", "spotline_test")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "spotline_test", u.Query().Get("search_path"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "schema_migrations", u.Query().Get("x-migrations-table"))
}

func TestWithSearchPath_RejectsKeyValueDSN(t *testing.T) {
	_, err := withSearchPath("host=localhost dbname=db", "spotline")
	require.Error(t, err)
}

func TestRun_ValidatesArguments(t *testing.T) {
	ctx := context.Background()

	require.Error(t, Run(ctx, "", "spotline", Up))
	require.Error(t, Run(ctx, "postgres://localhost/db", "bad-schema;", Up))
	require.Error(t, Run(ctx, "postgres://localhost/db", "spotline", Direction("sideways")))
}

func TestEmbeddedFilesArePaired(t *testing.T) {
	entries, err := files.ReadDir("sql")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}
