package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Errors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KILLCORE_STORAGE_DATABASE_URL", "")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-nope"}},
		{"unknown command", []string{"-command", "rollback"}},
		{"missing config file", []string{"-config", "absent.yaml"}},
		{"no database url", []string{"-command", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, 1, run(context.Background(), tt.args, &out))
			assert.Empty(t, out.String())
		})
	}
}
