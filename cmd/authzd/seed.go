package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/dmitrymomot/authzkit/pkg/rbac"
)

//go:embed seed.yaml
var defaultSeed []byte

// loadSeed reads path, or the built-in seed when path is empty.
func loadSeed(path string) (*rbac.Seed, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
	}
	return rbac.LoadSeed(bytes.NewReader(data))
}
