package sqldump

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitInserts(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"SET NAMES utf8;",
		"INSERT INTO `t` VALUES (1,'a;b');",
		"INSERT INTO `t` VALUES (2);",
		"INSERT INTO `db`.`u` VALUES (3);",
		"INSERT INTO `t` VALUES (4)",
	}, "\n")

	fs := afero.NewMemMapFs()
	res, err := SplitInserts(context.Background(), fs, strings.NewReader(in), SplitOptions{Dir: "/out", PerFile: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Statements)
	assert.Equal(t, []string{"/out/t_insert_00001.sql", "/out/u_insert_00001.sql", "/out/t_insert_00002.sql"}, res.Files)
	assert.Equal(t, []string{"t", "u"}, res.Tables())

	b, err := afero.ReadFile(fs, "/out/t_insert_00001.sql")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `t` VALUES (1,'a;b');\nINSERT INTO `t` VALUES (2);\n", string(b))

	b, err = afero.ReadFile(fs, "/out/t_insert_00002.sql")
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `t` VALUES (4);\n", string(b), "missing terminator is added")
}

func TestSplitInsertsTableFilter(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	in := "INSERT INTO a VALUES (1);\nINSERT INTO b VALUES (2);\n"
	res, err := SplitInserts(context.Background(), fs, strings.NewReader(in), SplitOptions{Dir: "out", Tables: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Statements)
	ok, err := afero.Exists(fs, "out/a_insert_00001.sql")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSplitInsertsCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SplitInserts(ctx, afero.NewMemMapFs(), strings.NewReader("INSERT INTO a VALUES (1);"), SplitOptions{Dir: "out"})
	assert.ErrorIs(t, err, context.Canceled)
}
