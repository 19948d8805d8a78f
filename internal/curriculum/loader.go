// Package curriculum parses the YKS curriculum JSON files shipped with the
// assistant. Each file carries a nested tree of subjects, grade levels, and
// arbitrarily deep sub-topic maps; the loader flattens the tree into a list
// of topics ready for embedding and ingestion.
package curriculum

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Topic is one flattened curriculum node with textual content.
type Topic struct {
	// Subject is the curriculum subject (e.g. "matematik").
	Subject string

	// Grade is the grade level as it appears in the file (e.g. "9").
	Grade string

	// Code is the dotted topic code path from the root node down
	// (e.g. "9.2.1.3").
	Code string

	// Title is the topic heading.
	Title string

	// Terms lists the topic's key terms and concepts.
	Terms []string

	// Symbols lists the topic's notation and symbols.
	Symbols []string

	// Description is the free-text explanation, flattened to a single string.
	Description string

	// SourceFile is the basename of the JSON file the topic came from.
	SourceFile string
}

// topicNode mirrors one node of the curriculum JSON tree. Description is
// delivered inconsistently across files (string, list, or nested map), so it
// is parsed leniently from raw JSON.
type topicNode struct {
	Title       string               `json:"baslik"`
	Terms       []string             `json:"terimler_ve_kavramlar"`
	Symbols     []string             `json:"sembol_ve_gosterimler"`
	Description json.RawMessage      `json:"aciklama"`
	Children    map[string]topicNode `json:"alt"`
}

// curriculumFile is the top-level shape: {"yks": {subject: {grade: {"alt": {...}}}}}.
type curriculumFile struct {
	YKS map[string]map[string]struct {
		Children map[string]topicNode `json:"alt"`
	} `json:"yks"`
}

// LoadDir parses every *.json file in dir and returns the flattened topics.
// Files that fail to parse are skipped with an error entry in the returned
// slice of problems; a completely empty result with no problems means the
// directory simply had no curriculum files.
func LoadDir(dir string) ([]Topic, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("curriculum: read dir %s: %w", dir, err)}
	}

	var topics []Topic
	var problems []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fileTopics, err := LoadFile(path)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		topics = append(topics, fileTopics...)
	}
	return topics, problems
}

// LoadFile parses a single curriculum JSON file into flattened topics.
func LoadFile(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: read %s: %w", path, err)
	}

	var file curriculumFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("curriculum: parse %s: %w", path, err)
	}

	base := filepath.Base(path)
	var topics []Topic
	for _, subject := range sortedKeys(file.YKS) {
		grades := file.YKS[subject]
		for _, grade := range sortedKeys(grades) {
			root := grades[grade]
			for _, code := range sortedKeys(root.Children) {
				walk(root.Children[code], subject, grade, code, base, &topics)
			}
		}
	}
	return topics, nil
}

// walk recursively flattens node and its children. Nodes without any textual
// content are traversed but not emitted.
func walk(node topicNode, subject, grade, code, sourceFile string, out *[]Topic) {
	topic := Topic{
		Subject:     subject,
		Grade:       grade,
		Code:        code,
		Title:       node.Title,
		Terms:       node.Terms,
		Symbols:     node.Symbols,
		Description: flattenDescription(node.Description),
		SourceFile:  sourceFile,
	}
	if topic.HasContent() {
		*out = append(*out, topic)
	}

	for _, childCode := range sortedKeys(node.Children) {
		walk(node.Children[childCode], subject, grade, code+"."+childCode, sourceFile, out)
	}
}

// HasContent reports whether the topic carries any ingestable text.
func (t Topic) HasContent() bool {
	return t.Title != "" || t.Description != "" || len(t.Terms) > 0 || len(t.Symbols) > 0
}

// Content assembles the topic's full ingestion text with labeled sections.
// Empty sections are omitted.
func (t Topic) Content() string {
	var parts []string
	if t.Title != "" {
		parts = append(parts, "Başlık: "+t.Title)
	}
	if t.Description != "" {
		parts = append(parts, "İçerik: "+t.Description)
	}
	if len(t.Terms) > 0 {
		parts = append(parts, "Terimler: "+strings.Join(t.Terms, ", "))
	}
	if len(t.Symbols) > 0 {
		parts = append(parts, "Semboller: "+strings.Join(t.Symbols, ", "))
	}
	return strings.Join(parts, "\n")
}

// flattenDescription normalizes the aciklama field, which may be a plain
// string, a list of strings, or a map of labeled strings.
func flattenDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.TrimSpace(strings.Join(list, " "))
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		parts := make([]string, 0, len(m))
		for _, k := range sortedKeys(m) {
			parts = append(parts, m[k])
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}

	return ""
}

// sortedKeys returns the map's keys in sorted order for deterministic output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
