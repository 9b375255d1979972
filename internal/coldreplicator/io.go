package coldreplicator

import (
	"os"
	"strings"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func urlEscapeQuery(s string) string {
	r := strings.NewReplacer(" ", "%20", "\n", "%0A", "'", "%27")
	return r.Replace(s)
}
