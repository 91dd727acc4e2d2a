// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/Jubii100/Procast-Agent/pkg/wire"
)

// sqlPreviewMax caps the one-line SQL preview. Long generated queries
// are still visible in full via the session transcript.
const sqlPreviewMax = 160

// StreamRenderer paints a streamed chat response as it arrives. Wire it
// up as the wire.Reader OnEvent callback:
//
//	r := ux.NewStreamRenderer()
//	reader := wire.NewReader()
//	reader.OnEvent = r.Handle
//	result, err := reader.Process(resp.Body)
//	r.Close()
//
// Answer text goes to Out verbatim. Tool progress shows as a spinner
// with a status line per phase; machine personality swaps all of that
// for stable SQL:/ROWS: prefixed lines.
type StreamRenderer struct {
	spinner   *Spinner
	wroteText bool
}

// NewStreamRenderer returns a renderer for one streamed response.
func NewStreamRenderer() *StreamRenderer {
	return &StreamRenderer{spinner: NewSpinner("Thinking")}
}

// Handle consumes one protocol event. Call it from wire.Reader.OnEvent
// in arrival order.
func (r *StreamRenderer) Handle(ev wire.Event) {
	switch ev.Type {
	case wire.EventStart:
		r.spinner.Start()
	case wire.EventTextStart:
		r.spinner.Stop()
	case wire.EventTextDelta:
		r.spinner.Stop()
		fmt.Fprint(Out, ev.Delta)
		r.wroteText = true
	case wire.EventToolInputStart:
		r.spinner.SetMessage("Writing SQL")
	case wire.EventToolInputAvailable:
		r.showSQL(inputSQL(ev.Input))
	case wire.EventToolOutputAvailable:
		r.showRows(outputRows(ev.Output))
	case wire.EventToolOutputError:
		r.spinner.Stop()
		r.breakText()
		Warningf("Query failed: %s", ev.ErrorText)
	case wire.EventError:
		r.spinner.Stop()
		r.breakText()
		Errorf("%s", ev.ErrorText)
	case wire.EventFinish:
		r.Close()
	}
}

// Close stops any running spinner and terminates the answer line. Safe
// to call more than once; Handle calls it on finish, callers call it
// again on early exit.
func (r *StreamRenderer) Close() {
	r.spinner.Stop()
	r.breakText()
}

func (r *StreamRenderer) showSQL(sql string) {
	if sql == "" {
		return
	}
	switch Personality() {
	case PersonalityMachine:
		fmt.Fprintf(Out, "SQL: %s\n", collapseSQL(sql))
	case PersonalityMinimal:
		// Keep the answer clean; the transcript has the query.
	default:
		r.spinner.Stop()
		fmt.Fprintln(Out, Styles.SQL.Render("sql> "+collapseSQL(sql)))
		r.spinner.SetMessage("Running query")
		r.spinner.Start()
	}
}

func (r *StreamRenderer) showRows(rows int, truncated bool) {
	suffix := ""
	if truncated {
		suffix = " (truncated)"
	}
	switch Personality() {
	case PersonalityMachine:
		fmt.Fprintf(Out, "ROWS: %d%s\n", rows, suffix)
	case PersonalityMinimal:
		// Row counts show up in the answer text itself.
	default:
		r.spinner.Stop()
		Mutedf("%s %d rows%s", iconOK, rows, suffix)
		r.spinner.SetMessage("Analyzing results")
		r.spinner.Start()
	}
}

// breakText ends a partially written answer line so the next status or
// prompt starts clean.
func (r *StreamRenderer) breakText() {
	if !r.wroteText {
		return
	}
	r.wroteText = false
	fmt.Fprintln(Out)
}

func collapseSQL(sql string) string {
	collapsed := strings.Join(strings.Fields(sql), " ")
	if len(collapsed) > sqlPreviewMax {
		collapsed = collapsed[:sqlPreviewMax] + "…"
	}
	return collapsed
}

func inputSQL(in any) string {
	m, ok := in.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["sql"].(string)
	return s
}

func outputRows(out any) (int, bool) {
	m, ok := out.(map[string]any)
	if !ok {
		return 0, false
	}
	n, _ := m["row_count"].(float64)
	truncated, _ := m["truncated"].(bool)
	return int(n), truncated
}
