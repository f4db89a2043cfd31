// ABOUTME: Loads address-book snapshots from JSON files
// ABOUTME: Validates the document against an embedded schema before conversion
package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	stdsync "sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/harperreed/rolodex/models"
)

const snapshotSchemaURL = "rolodex://snapshot.schema.json"

const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["contacts"],
  "properties": {
    "account": {"type": "string"},
    "contacts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "phone"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "phone": {"type": "string", "minLength": 1},
          "email": {"type": "string"},
          "source": {"enum": ["device", "invite", "manual", ""]}
        },
        "additionalProperties": true
      }
    }
  }
}`

// Snapshot is a point-in-time export of the user's address book.
type Snapshot struct {
	Account  string            `json:"account,omitempty"`
	Contacts []SnapshotContact `json:"contacts"`
}

type SnapshotContact struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source,omitempty"`
}

var (
	schemaOnce     stdsync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func snapshotValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(snapshotSchemaURL)
	})
	return compiledSchema, schemaErr
}

// LoadSnapshotFile reads and validates a snapshot file.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadSnapshot(f)
}

// LoadSnapshot validates and decodes a snapshot document.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	sch, err := snapshotValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile snapshot schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// LocalContacts converts the snapshot entries. Entries without a source
// default to manual.
func (s *Snapshot) LocalContacts() ([]models.LocalContact, error) {
	out := make([]models.LocalContact, 0, len(s.Contacts))
	for i, c := range s.Contacts {
		source, err := models.ParseSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("contact %d: %w", i, err)
		}
		out = append(out, models.NewLocalContact(c.Name, c.Phone, c.Email, source))
	}
	return out, nil
}
