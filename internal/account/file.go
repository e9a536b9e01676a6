package account

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the document listing the accounts registered at startup.
type File struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadFile reads and validates an accounts file.
func LoadFile(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an accounts document. Unknown fields and duplicate keys are
// rejected.
func Parse(data []byte) ([]Account, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing accounts file: %w", err)
	}

	seen := map[string]struct{}{}
	for _, a := range f.Accounts {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[a.Key]; dup {
			return nil, fmt.Errorf("account %q is listed more than once", a.Key)
		}
		seen[a.Key] = struct{}{}
	}

	return f.Accounts, nil
}
