package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadJSON decodes the JSON file at filePath into out.
func ReadJSON(filePath string, out any) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding %s: %w", filePath, err)
	}
	return nil
}

// WriteJSON writes v to filePath, indented by indent spaces, creating parent
// directories as needed.
func WriteJSON(filePath string, v any, indent int) error {
	data, err := json.MarshalIndent(v, "", strings.Repeat(" ", indent))
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", filePath, err)
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}
