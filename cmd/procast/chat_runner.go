// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/Jubii100/Procast-Agent/pkg/ux"
	"github.com/Jubii100/Procast-Agent/pkg/wire"
	"github.com/Jubii100/Procast-Agent/services/agent/datatypes"
)

// historyWindow caps the conversation context sent with each turn. The
// server rejects requests with more than 100 messages; trimming client
// side keeps long sessions under that and keeps prompts focused.
const historyWindow = 40

// chatSender is the slice of agentClient the chat loop needs. Tests
// substitute a scripted fake.
type chatSender interface {
	Chat(ctx context.Context, req datatypes.ChatRequest, onEvent func(wire.Event)) (*wire.StreamResult, string, error)
}

// =============================================================================
// Input Readers
// =============================================================================

// InputReader abstracts reading one line of user input so tests can
// script a conversation. Returns io.EOF when input is exhausted.
type InputReader interface {
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own
// prompt. The chat loop prints the prompt itself for everything else.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// StdinReader reads newline-terminated input from stdin. Used for piped
// input and as the fallback when stdin is not a terminal.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader returns a reader over os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

// ReadLine reads until newline and returns the trimmed line.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && strings.TrimSpace(line) != "" {
			// Final line without a trailing newline still counts.
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader reads input with line editing and up-arrow
// history, backed by a bubbletea text input. History lives in memory
// for the lifetime of the chat session only.
type InteractiveInputReader struct {
	history    []string
	maxHistory int
	prompt     string
}

// NewInteractiveInputReader returns an interactive reader when stdin is
// a terminal and a plain StdinReader otherwise (piped input, CI).
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
		prompt:     "> ",
	}
}

// SetPrompt changes the prompt drawn before input.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line. Up/down navigate history, Ctrl+C clears the
// current line, Ctrl+D returns io.EOF.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4000
	ti.Width = 80

	m := inputModel{textInput: ti, history: r.history, historyIndex: -1}

	// The prompt renders on stderr so piped stdout stays pure answer text.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type %T from input program", finalModel)
	}

	if result.eof && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.remember(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) remember(input string) {
	if n := len(r.history); n > 0 && r.history[n-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model behind InteractiveInputReader.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	draft        string // input in progress while browsing history
	eof          bool
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.eof = true
			m.textInput.SetValue("")
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.draft = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.draft)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	return m.textInput.View()
}

// MockInputReader returns scripted inputs in order, then io.EOF.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader builds a reader over a fixed input sequence.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next scripted input, or io.EOF when exhausted.
func (r *MockInputReader) ReadLine() (string, error) {
	if r.index >= len(r.inputs) {
		return "", io.EOF
	}
	line := r.inputs[r.index]
	r.index++
	return line, nil
}

// =============================================================================
// Chat Runner
// =============================================================================

// ChatRunner drives the interactive chat loop: read a question, send
// the conversation, render the streamed answer, repeat. The loop ends
// on "exit", "quit", end of input, or context cancellation.
type ChatRunner struct {
	client    chatSender
	input     InputReader
	sessionID string
	history   []datatypes.ChatMessage
}

// NewChatRunner builds a runner. A non-empty sessionID resumes an
// existing conversation.
func NewChatRunner(client chatSender, input InputReader, sessionID string) *ChatRunner {
	return &ChatRunner{client: client, input: input, sessionID: sessionID}
}

// Run executes the chat loop until exit, end of input, or cancellation.
func (r *ChatRunner) Run(ctx context.Context) error {
	if prompter, ok := r.input.(PromptingInputReader); ok {
		prompter.SetPrompt("> ")
	}

	if ux.IsInteractive() {
		ux.Titlef("Procast Agent")
		if r.sessionID != "" {
			ux.Mutedf("Resuming session %s", r.sessionID)
		}
		ux.Mutedf("Ask about your projects and budgets. Type 'exit' to leave.")
	}

	for {
		if err := ctx.Err(); err != nil {
			return context.Canceled
		}

		if _, ok := r.input.(PromptingInputReader); !ok && ux.IsInteractive() {
			fmt.Fprint(os.Stderr, "> ")
		}

		line, err := r.input.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			if ux.IsInteractive() {
				ux.Mutedf("Bye.")
			}
			return nil
		}

		if err := r.sendTurn(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			ux.Errorf("%v", err)
		}
	}
}

// sendTurn sends one user message with the accumulated conversation and
// folds the reply back into the history.
func (r *ChatRunner) sendTurn(ctx context.Context, question string) error {
	r.history = append(r.history, datatypes.ChatMessage{Role: "user", Content: question})
	if len(r.history) > historyWindow {
		r.history = r.history[len(r.history)-historyWindow:]
	}

	renderer := ux.NewStreamRenderer()
	result, sessionID, err := r.client.Chat(ctx, datatypes.ChatRequest{
		Messages:       r.history,
		ConversationID: r.sessionID,
	}, renderer.Handle)
	renderer.Close()
	if err != nil {
		// Drop the failed turn so a retry sends a clean conversation.
		r.history = r.history[:len(r.history)-1]
		return err
	}

	if sessionID != "" && r.sessionID == "" {
		r.sessionID = sessionID
		if ux.Personality() == ux.PersonalityFull {
			ux.Mutedf("Session %s", sessionID)
		}
	}

	if result.Answer != "" {
		r.history = append(r.history, datatypes.ChatMessage{Role: "assistant", Content: result.Answer})
	}
	return nil
}

// isExitCommand reports whether input asks to leave the chat.
func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit":
		return true
	}
	return false
}
