package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/log"
)

type stubLayer struct {
	name   string
	result Result
	seen   []string
}

func (s *stubLayer) Name() string { return s.name }

func (s *stubLayer) Validate(_ context.Context, files []string) Result {
	s.seen = files
	return s.result
}

func TestEvaluateContinueWithAdvisoryFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubLayer{name: "syntax", result: Pass("")}, LayerConfig{Blocking: true}))
	require.NoError(t, reg.Register(&stubLayer{name: "lint", result: Fail("style")}, LayerConfig{Blocking: false}))

	out := New(reg, log.Discard()).Evaluate(context.Background(), 0, []string{"a.go"})

	assert.Equal(t, DecisionContinue, out.Decision)
	assert.NoError(t, out.Err())
	require.Len(t, out.Advisories(), 1)
	assert.Equal(t, "lint", out.Advisories()[0].Name)
	assert.Equal(t, []string{"syntax", "lint"}, []string{out.Layers[0].Name, out.Layers[1].Name})
}

func TestEvaluateHaltsOnBlockingFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubLayer{name: "tests", result: Fail("2 failed")}, LayerConfig{Blocking: true}))

	out := New(reg, log.Discard()).Evaluate(context.Background(), 4, []string{"a.go", "b.go"})
	assert.Equal(t, DecisionHalt, out.Decision)

	var coded *errors.Error
	require.True(t, errors.As(out.Err(), &coded))
	assert.Equal(t, errors.ErrCodeValidationBlocking, coded.Code)
	assert.Equal(t, 4, coded.Batch)
	assert.Equal(t, []string{"a.go", "b.go"}, coded.Files)
	assert.Contains(t, coded.Message, "tests")
}

func TestBlockingComesFromConfigOnly(t *testing.T) {
	layer := &stubLayer{name: "imports", result: Fail("bad import")}
	reg := NewRegistry()
	require.NoError(t, reg.Register(layer, LayerConfig{Blocking: false}))

	out := New(reg, log.Discard()).Evaluate(context.Background(), 0, []string{"a.go"})
	assert.Equal(t, DecisionContinue, out.Decision)
}

func TestPathFilters(t *testing.T) {
	goLayer := &stubLayer{name: "go", result: Fail("never reached")}
	tsLayer := &stubLayer{name: "ts", result: Pass("")}

	reg := NewRegistry()
	require.NoError(t, reg.Register(goLayer, LayerConfig{Blocking: true, Paths: []string{"**/*.go"}}))
	require.NoError(t, reg.Register(tsLayer, LayerConfig{Blocking: true, Paths: []string{"web/**/*.tsx"}}))

	out := New(reg, log.Discard()).Evaluate(context.Background(), 0, []string{"web/src/app.tsx", "README.md"})

	assert.Equal(t, DecisionContinue, out.Decision)
	assert.True(t, out.Layers[0].Skipped)
	assert.Nil(t, goLayer.seen)
	assert.Equal(t, []string{"web/src/app.tsx"}, tsLayer.seen)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterFromConfig(LayerConfig{Name: "x", Type: "nope"})
	assert.Equal(t, errors.ErrCodeValidationConfig, errors.CodeOf(err))

	err = reg.RegisterFromConfig(LayerConfig{Name: "x", Type: "script"})
	assert.Equal(t, errors.ErrCodeValidationConfig, errors.CodeOf(err), "script path is required")

	err = reg.Register(&stubLayer{name: "bad"}, LayerConfig{Paths: []string{"[unclosed"}})
	assert.Equal(t, errors.ErrCodeValidationConfig, errors.CodeOf(err))

	require.NoError(t, reg.Register(&stubLayer{name: "dup"}, LayerConfig{}))
	assert.Error(t, reg.Register(&stubLayer{name: "dup"}, LayerConfig{}))
}

type panicLayer struct{}

func (panicLayer) Name() string { return "panics" }

func (panicLayer) Validate(context.Context, []string) Result { panic("boom") }

func TestLayerPanicFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(panicLayer{}, LayerConfig{Blocking: true}))

	out := New(reg, log.Discard()).Evaluate(context.Background(), 0, []string{"a"})
	assert.Equal(t, DecisionHalt, out.Decision)
	assert.Contains(t, out.Layers[0].Message, "panicked")
}

func TestScriptLayer(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "check.sh")
	require.NoError(t, os.WriteFile(script, []byte(`for f in "$@"; do
  case "$f" in *bad*) echo "rejected $f" >&2; exit 1;; esac
done
echo "checked $BATCHGUARD_FILE_COUNT"
`), 0o755))

	reg := NewRegistry()
	require.NoError(t, reg.RegisterFromConfig(LayerConfig{
		Name:     "script-check",
		Type:     "script",
		Blocking: true,
		Timeout:  10 * time.Second,
		Config:   map[string]any{"script": script, "pass_files": true},
	}))
	g := New(reg, log.Discard())

	ok := g.Evaluate(context.Background(), 0, []string{"good.go"})
	assert.Equal(t, DecisionContinue, ok.Decision)
	assert.Equal(t, "checked 1", ok.Layers[0].Message)

	bad := g.Evaluate(context.Background(), 1, []string{"good.go", "bad.go"})
	assert.Equal(t, DecisionHalt, bad.Decision)
	assert.Contains(t, bad.Layers[0].Message, "rejected bad.go")
}
