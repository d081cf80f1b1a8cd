// Package contracts embeds the HTTP contracts served and enforced by the API.
package contracts

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed worlds.yaml
var WorldsYAML []byte

// LoadWorlds parses the embedded worlds contract.
func LoadWorlds() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(WorldsYAML)
	if err != nil {
		return nil, fmt.Errorf("load worlds contract: %w", err)
	}
	return spec, nil
}
