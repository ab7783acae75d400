package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk reelctl configuration.
//
//	server     = "http://127.0.0.1:8080"
//	jwt_secret = "..."
//	timeout    = "30s"
type fileConfig struct {
	Server    string `toml:"server"`
	JWTSecret string `toml:"jwt_secret"`
	Timeout   string `toml:"timeout"`
}

// loadFileConfig reads path. A missing file yields an empty config.
func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
