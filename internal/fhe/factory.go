package fhe

import (
	"fmt"
	"strings"

	"github.com/fhecredit/backend/internal/config"
)

func NewProviderFromConfig(cfg config.Config) (Provider, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.FHEBackend))
	switch backend {
	case "", "bfv":
		return NewBFVProvider()
	case "cleartext":
		return NewCleartextProvider(), nil
	default:
		return nil, fmt.Errorf("invalid FHE_BACKEND: %s", cfg.FHEBackend)
	}
}
