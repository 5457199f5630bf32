// ABOUTME: Tests for the standalone server
// ABOUTME: Argument parsing and exit codes
package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "defaults", want: "localhost:1972"},
		{name: "host", args: []string{"0.0.0.0"}, want: "0.0.0.0:1972"},
		{name: "host and port", args: []string{"127.0.0.1", "2000"}, want: "127.0.0.1:2000"},
		{name: "any port", args: []string{"127.0.0.1", "0"}, want: "127.0.0.1:0"},
		{name: "bad port", args: []string{"localhost", "http"}, wantErr: true},
		{name: "port out of range", args: []string{"localhost", "70000"}, wantErr: true},
		{name: "too many", args: []string{"a", "1", "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunBadArguments(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitBadUsage, run(context.Background(), []string{"localhost", "nope"}, &stderr))
	assert.Contains(t, stderr.String(), "usage")

	assert.Equal(t, exitBadUsage, run(context.Background(), []string{"--bogus"}, &stderr))
}

func TestRunBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"127.0.0.1", strconv.Itoa(port)}, &stderr)
	assert.Equal(t, exitBind, code)
}

func TestRunShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run(ctx, []string{"127.0.0.1", "0"}, &stderr))
}
