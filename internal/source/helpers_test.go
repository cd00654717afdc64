package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// saleLine renders one headerless price paid CSV row.
func saleLine(id string, price int, date, propertyType string) string {
	return fmt.Sprintf(`"{%s}","%d","%s","SW1A 1AA","%s","N","F","10","","DOWNING STREET","","LONDON","CITY OF WESTMINSTER","GREATER LONDON","A","A"`,
		id, price, date, propertyType)
}

// writeCSV writes lines to dir/name and returns the path.
func writeCSV(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}
