// Package mltest writes small, deterministic model artifact sets for tests.
package mltest

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Arity is the full feature count of the generated models.
const Arity = 17

// Options controls the generated artifact set.
type Options struct {
	Version string
	// Classes in label-file order; the loader sorts them.
	Classes []string
	// Priors sets the multiclass output for every input, keyed by class.
	Priors map[string]float64
	// AttackBias shifts the binary logit. Flow duration adds 1e-5 per
	// microsecond, so with the default of -1 flows longer than 100ms are
	// attacks and idle ones are benign.
	AttackBias float64
}

// DefaultOptions returns a four-class set where NetBIOS wins with 0.80.
func DefaultOptions() Options {
	return Options{
		Version: "1.0.0",
		Classes: []string{"Syn", "NetBIOS", "UDP", "LDAP"},
		Priors: map[string]float64{
			"NetBIOS": 0.80,
			"Syn":     0.15,
			"UDP":     0.04,
			"LDAP":    0.01,
		},
		AttackBias: -1,
	}
}

// Write stores the artifact set in dir and returns dir.
func Write(t testing.TB, dir string, opts Options) string {
	t.Helper()

	sorted := append([]string(nil), opts.Classes...)
	sort.Strings(sorted)

	mean := make([]float64, Arity)
	scale := make([]float64, Arity)
	for i := range scale {
		scale[i] = 1
	}

	binaryCoef := make([]float64, Arity)
	binaryCoef[0] = 1e-5

	coef := make([][]float64, len(sorted))
	intercept := make([]float64, len(sorted))
	for i, class := range sorted {
		coef[i] = make([]float64, Arity)
		p := opts.Priors[class]
		if p <= 0 {
			p = 1e-9
		}
		intercept[i] = math.Log(p)
	}

	writeJSON(t, filepath.Join(dir, "manifest.json"), map[string]string{"version": opts.Version})
	writeJSON(t, filepath.Join(dir, "ddos_scaler.json"), map[string]interface{}{"mean": mean, "scale": scale})
	writeJSON(t, filepath.Join(dir, "ddos_binary_model.json"), map[string]interface{}{
		"coef": binaryCoef, "intercept": opts.AttackBias, "threshold": 0.5,
	})
	writeJSON(t, filepath.Join(dir, "ddos_multiclass_model.json"), map[string]interface{}{
		"coef": coef, "intercept": intercept,
	})
	writeFile(t, filepath.Join(dir, "ddos_label_classes.txt"), strings.Join(opts.Classes, "\n")+"\n")
	return dir
}

// LegacyFlow returns a 14-feature legacy vector with the given duration and
// packet counts.
func LegacyFlow(durationMicros, fwd, bwd float64) []float64 {
	v := make([]float64, Arity-3)
	v[0] = durationMicros
	v[1] = fwd
	v[2] = bwd
	v[4] = 2048
	v[5] = 64
	v[7] = 10
	v[11] = 1500
	return v
}

func writeJSON(t testing.TB, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	writeFile(t, path, string(data))
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
