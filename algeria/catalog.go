package algeria

import (
	_ "embed"

	"github.com/warp/paie-engine/factory"
)

//go:embed catalog.yaml
var catalogYAML []byte

// CatalogYAML returns the default catalog file.
func CatalogYAML() []byte {
	out := make([]byte, len(catalogYAML))
	copy(out, catalogYAML)
	return out
}

// DefaultCatalog parses the embedded default catalog.
func DefaultCatalog() (*factory.Catalog, error) {
	return factory.Parse(catalogYAML)
}
