package mapping

import (
	"fmt"
	"io"
	"os"

	"github.com/ammar0144/persist4go/pkg/entity"
	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a mapping table
//
//	entities:
//	  - name: Member
//	    table: member
//	    id: {field: id, column: member_id, strategy: generated}
//	    fields:
//	      - {name: username, column: username}
//	    associations:
//	      - {name: team, kind: to_one, target: Team, column: team_id, fetch: lazy}
//	    named_queries:
//	      findByUsername2: select m from Member m where m.username = :username
type Document struct {
	Entities []Entity `yaml:"entities"`
}

// LoadDocument decodes a mapping document
func LoadDocument(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode mapping document: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("mapping document declares no entities")
	}
	return &doc, nil
}

// LoadDocumentFile decodes a mapping document from a file
func LoadDocumentFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping document: %w", err)
	}
	defer f.Close()
	return LoadDocument(f)
}

// RegisterDocument registers every entity of doc, binding factories by entity
// name, then validates cross-entity references. Entities without a factory can
// be translated but not hydrated.
func (r *Registry) RegisterDocument(doc *Document, factories map[string]func() entity.Entity) error {
	for _, m := range doc.Entities {
		if err := r.Register(m, factories[m.Name]); err != nil {
			return err
		}
	}
	return r.Validate()
}
