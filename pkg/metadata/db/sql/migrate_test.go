package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (id INT);

-- second
CREATE INDEX idx_a ON a (id);
INSERT INTO a VALUES ('x;y');
`
	got := SplitStatements(script)
	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE INDEX idx_a ON a (id)",
		"INSERT INTO a VALUES ('x;y')",
	}, got)
}

func TestSplitStatements_CommentWithSemicolon(t *testing.T) {
	got := SplitStatements("-- drop; everything\nSELECT 1;")
	assert.Equal(t, []string{"SELECT 1"}, got)
}

func TestSplitStatements_Empty(t *testing.T) {
	assert.Empty(t, SplitStatements("  \n-- nothing\n"))
}
