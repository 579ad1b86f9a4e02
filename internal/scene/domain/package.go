package domain

import (
	"encoding/json"
	"strings"

	"github.com/louisbranch/keystone/internal/contract"
	apperrors "github.com/louisbranch/keystone/internal/errors"
)

// Definition is the declarative, transportable form of a scene package.
// Export and Import round-trip it as JSON.
type Definition struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Channel Channel        `json:"channel"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate normalizes the definition fields and reports the first problem.
func (d *Definition) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Version = strings.TrimSpace(d.Version)
	if d.Name == "" {
		return apperrors.New(apperrors.CodeScenePackageNameEmpty, "package name is required")
	}
	if d.Version == "" {
		return apperrors.WithMetadata(apperrors.CodeScenePackageVersionEmpty, "package version is required",
			map[string]string{"Package": d.Name})
	}
	channel, err := ParseChannel(string(d.Channel))
	if err != nil {
		return err
	}
	d.Channel = channel
	return nil
}

// Checksum fingerprints the package content. The channel is excluded so a
// package promoted between channels keeps its identity.
func (d Definition) Checksum() (string, error) {
	return contract.ContentHash(map[string]any{
		"name":    d.Name,
		"version": d.Version,
		"payload": d.Payload,
	})
}

// Export serializes the definition for transport between environments.
func (d Definition) Export() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode package definition", err)
	}
	return data, nil
}

// ImportDefinition parses and validates an exported definition.
func ImportDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return Definition{}, apperrors.Wrap(apperrors.CodeUnsupportedSource, "package definition is not valid json", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}
