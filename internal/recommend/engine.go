// Package recommend builds the operator action guide for a scored detection.
package recommend

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Risk tiers.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

const (
	// NoGuideMessage is used when the catalog has no entry for a label.
	NoGuideMessage = "No information is available for this attack type."
	// Unknown stands in for a missing country, port or attack name.
	Unknown = "unknown"
)

// Entry is the catalog record for one attack label.
type Entry struct {
	Guide string `yaml:"guide"`
}

// Catalog maps attack labels to guidance. It is read-only after loading.
type Catalog map[string]Entry

// LoadCatalog reads a YAML catalog of the form `Label: {guide: text}`.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading guide catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("error parsing guide catalog: %w", err)
	}
	if catalog == nil {
		catalog = Catalog{}
	}
	return catalog, nil
}

// Guide returns the guidance for label or NoGuideMessage.
func (c Catalog) Guide(label string) string {
	if entry, ok := c[label]; ok && strings.TrimSpace(entry.Guide) != "" {
		return entry.Guide
	}
	return NoGuideMessage
}

// RiskLevel maps a score to its tier. Lower bounds are inclusive.
func RiskLevel(score float64) string {
	switch {
	case score >= 80:
		return LevelHigh
	case score >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Engine renders recommendations from an immutable catalog.
type Engine struct {
	catalog Catalog
}

// NewEngine creates an engine. A nil catalog answers every label with
// NoGuideMessage.
func NewEngine(catalog Catalog) *Engine {
	copied := make(Catalog, len(catalog))
	for k, v := range catalog {
		copied[k] = v
	}
	return &Engine{catalog: copied}
}

// Recommend composes the guide for one detection. A nil or zero port and an
// empty country are shown as unknown.
func (e *Engine) Recommend(attack string, riskScore float64, country string, dstPort *int) string {
	if attack == "" {
		attack = Unknown
	}
	if country == "" {
		country = Unknown
	}
	port := Unknown
	if dstPort != nil && *dstPort != 0 {
		port = strconv.Itoa(*dstPort)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s attack detected]\n\n", attack)
	fmt.Fprintf(&b, "Source country: %s\n", country)
	fmt.Fprintf(&b, "Target port: %s\n", port)
	fmt.Fprintf(&b, "Risk score: %.2f (%s)\n\n", riskScore, RiskLevel(riskScore))
	b.WriteString(strings.TrimSpace(e.catalog.Guide(attack)))
	return b.String()
}
