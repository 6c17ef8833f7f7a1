package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileSecretProvider resolves secret references as file paths, the layout used
// by container secret mounts (e.g. /run/secrets/api_key_hash).
type FileSecretProvider struct {
	readFile func(string) ([]byte, error)
}

// NewFileSecretProvider creates a provider backed by the local filesystem.
func NewFileSecretProvider() *FileSecretProvider {
	return &FileSecretProvider{readFile: os.ReadFile}
}

// Resolve reads each path and returns its contents with surrounding whitespace
// trimmed. Missing files are omitted; any other read failure aborts.
func (p *FileSecretProvider) Resolve(ctx context.Context, refs []string) (map[string]string, error) {
	result := make(map[string]string, len(refs))
	for _, path := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := p.readFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read secret file %s: %w", path, err)
		}
		result[path] = strings.TrimSpace(string(data))
	}
	return result, nil
}
