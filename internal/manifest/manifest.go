// Package manifest splits rendered multi-document YAML into individual resource documents.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError reports a malformed manifest document.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("manifest: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// Identity uniquely identifies a cluster object.
type Identity struct {
	Kind       string
	APIVersion string
	Name       string
	Namespace  string
}

// String renders the identity in kind/name form.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%s", id.Kind, id.Name)
}

// Document is a single parsed resource document.
type Document map[string]any

// Kind returns the document kind, or empty.
func (d Document) Kind() string { return d.stringField("kind") }

// APIVersion returns the document apiVersion, or empty.
func (d Document) APIVersion() string { return d.stringField("apiVersion") }

// Metadata returns the metadata mapping, creating it when absent.
func (d Document) Metadata() map[string]any {
	if m, ok := d["metadata"].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	d["metadata"] = m
	return m
}

// Name returns metadata.name, or empty.
func (d Document) Name() string {
	if s, ok := d.Metadata()["name"].(string); ok {
		return s
	}
	return ""
}

// Namespace returns metadata.namespace, or empty.
func (d Document) Namespace() string {
	if s, ok := d.Metadata()["namespace"].(string); ok {
		return s
	}
	return ""
}

// Spec returns the spec mapping, or nil.
func (d Document) Spec() map[string]any {
	if m, ok := d["spec"].(map[string]any); ok {
		return m
	}
	return nil
}

// Data returns the data mapping, or nil. Meaningful for ConfigMaps and Secrets.
func (d Document) Data() map[string]any {
	if m, ok := d["data"].(map[string]any); ok {
		return m
	}
	return nil
}

// Identity validates and returns the document's resource identity.
// Kind, apiVersion and metadata.name must all be present.
func (d Document) Identity() (Identity, error) {
	id := Identity{
		Kind:       d.Kind(),
		APIVersion: d.APIVersion(),
		Name:       d.Name(),
		Namespace:  d.Namespace(),
	}
	if id.Kind == "" || id.APIVersion == "" || id.Name == "" {
		return id, errors.New("invalid manifest: missing kind/apiVersion/name")
	}
	return id, nil
}

func (d Document) stringField(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// Parse splits content into documents. Empty documents are dropped. A document
// without metadata.namespace inherits defaultNamespace. A YAML syntax error
// anywhere yields a ParseError and no documents; identity validation is left
// to the consumer so one invalid resource does not discard its siblings.
func Parse(path, content, defaultNamespace string) ([]Document, error) {
	dec := yaml.NewDecoder(strings.NewReader(content))

	var docs []Document
	for {
		var raw map[string]any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
		if len(raw) == 0 {
			continue
		}

		doc := Document(raw)
		if doc.Namespace() == "" && defaultNamespace != "" {
			doc.Metadata()["namespace"] = defaultNamespace
		}
		docs = append(docs, doc)
	}

	return docs, nil
}
