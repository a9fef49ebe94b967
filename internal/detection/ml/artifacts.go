package ml

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

// ErrModelUnavailable is returned when the artifact set is missing or unusable.
var ErrModelUnavailable = errors.New("model unavailable")

// ManifestFile names the artifact set descriptor inside the model directory.
const ManifestFile = "manifest.json"

// Manifest describes one artifact set. Empty file names fall back to defaults.
type Manifest struct {
	Version    string `json:"version"`
	Scaler     string `json:"scaler"`
	Binary     string `json:"binary"`
	Multiclass string `json:"multiclass"`
	Labels     string `json:"labels"`
}

func (m *Manifest) applyDefaults() {
	if m.Scaler == "" {
		m.Scaler = "ddos_scaler.json"
	}
	if m.Binary == "" {
		m.Binary = "ddos_binary_model.json"
	}
	if m.Multiclass == "" {
		m.Multiclass = "ddos_multiclass_model.json"
	}
	if m.Labels == "" {
		m.Labels = "ddos_label_classes.txt"
	}
}

// Artifacts is an immutable, fully validated model set. It is never modified
// after LoadArtifacts returns; a reload builds a new one.
type Artifacts struct {
	Dir        string
	Version    *version.Version
	Labels     []string
	Scaler     Scaler
	Binary     BinaryClassifier
	Multiclass MulticlassClassifier
	LoadedAt   time.Time
}

// ExpectedArity is the full feature vector length the models accept.
func (a *Artifacts) ExpectedArity() int {
	return a.Multiclass.InputSize()
}

// LoadArtifacts reads and cross-checks every artifact in dir. Any failure is
// reported as ErrModelUnavailable.
func LoadArtifacts(dir string) (*Artifacts, error) {
	a, err := loadArtifacts(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return a, nil
}

func loadArtifacts(dir string) (*Artifacts, error) {
	var manifest Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &manifest); err != nil {
		return nil, err
	}
	manifest.applyDefaults()

	ver, err := version.NewVersion(manifest.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest version %q: %v", manifest.Version, err)
	}

	labels, err := readLabels(filepath.Join(dir, manifest.Labels))
	if err != nil {
		return nil, err
	}

	scaler := &StandardScaler{}
	if err := readJSON(filepath.Join(dir, manifest.Scaler), scaler); err != nil {
		return nil, err
	}
	if err := scaler.validate(); err != nil {
		return nil, err
	}

	binary := &LogisticModel{}
	if err := readJSON(filepath.Join(dir, manifest.Binary), binary); err != nil {
		return nil, err
	}
	if err := binary.validate(); err != nil {
		return nil, err
	}

	multiclass := &SoftmaxModel{}
	if err := readJSON(filepath.Join(dir, manifest.Multiclass), multiclass); err != nil {
		return nil, err
	}
	if err := multiclass.validate(labels); err != nil {
		return nil, err
	}

	arity := multiclass.InputSize()
	if len(scaler.Mean) != arity {
		return nil, fmt.Errorf("scaler has %d features, multiclass model expects %d", len(scaler.Mean), arity)
	}
	if len(binary.Coef) != arity {
		return nil, fmt.Errorf("binary model has %d features, multiclass model expects %d", len(binary.Coef), arity)
	}

	return &Artifacts{
		Dir:        dir,
		Version:    ver,
		Labels:     labels,
		Scaler:     scaler,
		Binary:     binary,
		Multiclass: multiclass,
		LoadedAt:   time.Now(),
	}, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %v", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %v", filepath.Base(path), err)
	}
	return nil
}

// readLabels loads one class name per line. Classes are sorted so that the
// i-th model row maps to the i-th name, matching how the encoder was fitted.
func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", filepath.Base(path), err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		if label == "" {
			continue
		}
		if seen[label] {
			return nil, fmt.Errorf("duplicate class %q in %s", label, filepath.Base(path))
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", filepath.Base(path), err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no classes in %s", filepath.Base(path))
	}

	sort.Strings(labels)
	return labels, nil
}
