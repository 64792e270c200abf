package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadSecretFile reads a secret using the password_file convention and
// returns its trimmed content. A relative file is resolved against root,
// like every other path of the tool config. An empty file name yields an
// empty secret.
func ReadSecretFile(root, file string) (string, error) {
	if file == "" {
		return "", nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	content, err := os.ReadFile(file)
	if err != nil {
		// Never include the content, only the path.
		return "", fmt.Errorf("failed to read secret from %s: %w", file, err)
	}
	return strings.TrimSpace(string(content)), nil
}
