// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"strings"
	"testing"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
)

// newTestRenderer silences the spinner so test stderr stays clean.
func newTestRenderer() *StreamRenderer {
	r := NewStreamRenderer()
	r.spinner.out = io.Discard
	return r
}

func play(r *StreamRenderer, events ...wire.Event) {
	for _, ev := range events {
		r.Handle(ev)
	}
}

func TestStreamRenderer_PlainAnswer(t *testing.T) {
	setLevel(t, PersonalityMachine)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.TextStart("t1"),
		wire.TextDelta("t1", "Hello "),
		wire.TextDelta("t1", "world"),
		wire.TextEnd("t1"),
		wire.Finish(),
	)

	if got := buf.String(); got != "Hello world\n" {
		t.Errorf("rendered answer = %q", got)
	}
}

func TestStreamRenderer_MachineToolLines(t *testing.T) {
	setLevel(t, PersonalityMachine)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.ToolInputStart("c1", "db_query"),
		wire.ToolInputAvailable("c1", "db_query", map[string]any{"sql": "SELECT *\n  FROM Projects"}),
		wire.ToolOutputAvailable("c1", map[string]any{"row_count": float64(42), "truncated": true}),
		wire.TextStart("t1"),
		wire.TextDelta("t1", "42 projects."),
		wire.TextEnd("t1"),
		wire.Finish(),
	)

	got := buf.String()
	if !strings.Contains(got, "SQL: SELECT * FROM Projects\n") {
		t.Errorf("missing SQL line: %q", got)
	}
	if !strings.Contains(got, "ROWS: 42 (truncated)\n") {
		t.Errorf("missing ROWS line: %q", got)
	}
	if !strings.HasSuffix(got, "42 projects.\n") {
		t.Errorf("answer not last: %q", got)
	}
}

func TestStreamRenderer_StandardShowsSQLPreview(t *testing.T) {
	setLevel(t, PersonalityStandard)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.ToolInputAvailable("c1", "db_query", map[string]any{"sql": "SELECT 1"}),
		wire.ToolOutputAvailable("c1", map[string]any{"row_count": float64(1), "truncated": false}),
		wire.Finish(),
	)

	got := buf.String()
	if !strings.Contains(got, "sql> SELECT 1") {
		t.Errorf("missing sql preview: %q", got)
	}
	if !strings.Contains(got, "1 rows") {
		t.Errorf("missing row status: %q", got)
	}
}

func TestStreamRenderer_MinimalHidesToolChatter(t *testing.T) {
	setLevel(t, PersonalityMinimal)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.ToolInputAvailable("c1", "db_query", map[string]any{"sql": "SELECT 1"}),
		wire.ToolOutputAvailable("c1", map[string]any{"row_count": float64(1)}),
		wire.TextDelta("t1", "One row."),
		wire.Finish(),
	)

	if got := buf.String(); got != "One row.\n" {
		t.Errorf("minimal output = %q", got)
	}
}

func TestStreamRenderer_ErrorBreaksAnswerLine(t *testing.T) {
	setLevel(t, PersonalityMachine)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.TextDelta("t1", "Partial answer"),
		wire.StreamError("The analysis service is unavailable."),
		wire.Finish(),
	)

	want := "Partial answer\nERROR: The analysis service is unavailable.\n"
	if got := buf.String(); got != want {
		t.Errorf("error rendering = %q, want %q", got, want)
	}
}

func TestStreamRenderer_ToolOutputErrorWarns(t *testing.T) {
	setLevel(t, PersonalityMachine)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r,
		wire.Start(),
		wire.ToolOutputError("c1", "The query timed out."),
		wire.TextDelta("t1", "I could not run that."),
		wire.Finish(),
	)

	got := buf.String()
	if !strings.Contains(got, "WARN: Query failed: The query timed out.") {
		t.Errorf("missing warning: %q", got)
	}
	if !strings.HasSuffix(got, "I could not run that.\n") {
		t.Errorf("follow-up text lost: %q", got)
	}
}

func TestStreamRenderer_CloseIsIdempotent(t *testing.T) {
	setLevel(t, PersonalityMachine)
	buf := captureOut(t)

	r := newTestRenderer()
	play(r, wire.Start(), wire.TextDelta("t1", "hi"), wire.Finish())
	r.Close()
	r.Close()

	if got := buf.String(); got != "hi\n" {
		t.Errorf("extra output after double close: %q", got)
	}
}

func TestCollapseSQL(t *testing.T) {
	if got := collapseSQL("SELECT  a,\n\tb FROM  x"); got != "SELECT a, b FROM x" {
		t.Errorf("collapseSQL = %q", got)
	}

	long := strings.Repeat("SELECT ", 40)
	got := collapseSQL(long)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("long SQL not truncated: %q", got)
	}
	if len(got) > sqlPreviewMax+len("…") {
		t.Errorf("truncated SQL too long: %d", len(got))
	}
}

func TestPayloadExtraction(t *testing.T) {
	if got := inputSQL(map[string]any{"sql": "SELECT 1"}); got != "SELECT 1" {
		t.Errorf("inputSQL = %q", got)
	}
	if got := inputSQL("not a map"); got != "" {
		t.Errorf("inputSQL on junk = %q", got)
	}
	rows, truncated := outputRows(map[string]any{"row_count": float64(7), "truncated": true})
	if rows != 7 || !truncated {
		t.Errorf("outputRows = %d, %v", rows, truncated)
	}
	rows, truncated = outputRows(nil)
	if rows != 0 || truncated {
		t.Errorf("outputRows on nil = %d, %v", rows, truncated)
	}
}
