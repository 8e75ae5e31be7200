package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		gt.NoError(t, err).Required()
		gt.Value(t, got).Equal(want)
	}

	_, err := ParseLevel("loud")
	gt.Value(t, err).NotNil()
}

func TestFromFallsBackToDefault(t *testing.T) {
	gt.Value(t, From(context.Background())).Equal(Default())

	var buf bytes.Buffer
	l := New(Options{Format: FormatJSON, Writer: &buf})
	ctx := With(context.Background(), l)
	gt.Value(t, From(ctx)).Equal(l)
}

func TestJSONLoggerRedactsPasswords(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Format: FormatJSON, Writer: &buf})

	type login struct {
		Username string
		Password string
	}
	l.Info("login", "creds", login{Username: "ada", Password: "hunter2"})
	gt.Bool(t, strings.Contains(buf.String(), "hunter2")).False()
	gt.String(t, buf.String()).Contains("ada")
}

func TestErrAttrIncludesGoerrValues(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Format: FormatJSON, Writer: &buf})

	l.Error("failed", ErrAttr(goerr.New("sync failed", goerr.V("entity", "d1"))))
	gt.String(t, buf.String()).Contains("d1")
}
