package ux

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

func TestNewErrorWithSuggestion(t *testing.T) {
	assert.Nil(t, NewErrorWithSuggestion(nil, "ignored"))

	base := stderrors.New("something failed")
	err := NewErrorWithSuggestion(base, "try this fix")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "something failed")
	assert.Contains(t, err.Error(), "Suggestion: try this fix")
	assert.ErrorIs(t, err, base)

	plain := NewErrorWithSuggestion(base, "")
	assert.Equal(t, "something failed", plain.Error())
}

func TestEnhanceError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		hint    string
		enhance bool
	}{
		{"nil", nil, "", false},
		{"no command", fmt.Errorf("no task command configured"), "executor.command", true},
		{"permission", fmt.Errorf("open x: permission denied"), "writable", true},
		{"missing manifest", fmt.Errorf("open tasks.yaml: no such file or directory"), "--manifest", true},
		{"unrelated", fmt.Errorf("boom"), "", false},
		{"coded errors pass through", errors.New(errors.ErrCodeLockHeld, "permission denied"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnhanceError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			var ews *ErrorWithSuggestion
			assert.Equal(t, tt.enhance, stderrors.As(got, &ews))
			if tt.enhance {
				assert.Contains(t, ews.Suggestion, tt.hint)
			}
		})
	}
}

func TestPrintErrorCoded(t *testing.T) {
	err := errors.NewRollbackIntegrityError(2, []string{"a.go"}, "/tmp/backups/run-1/batch-002")

	var buf bytes.Buffer
	PrintError(&buf, err)
	out := buf.String()

	assert.Contains(t, out, string(errors.ErrCodeRollbackIntegrity))
	assert.Contains(t, out, "batch: 2")
	assert.Contains(t, out, "a.go")
	assert.Contains(t, out, "/tmp/backups/run-1/batch-002")
	assert.Contains(t, out, "Do not re-run automatically")
}

func TestPrintErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, fmt.Errorf("no task command configured"))
	assert.Contains(t, buf.String(), "Suggestion:")

	buf.Reset()
	PrintError(&buf, nil)
	assert.Empty(t, buf.String())
}
