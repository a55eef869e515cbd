// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// InputReader reads one trimmed line of user input per call and returns
// io.EOF when input is exhausted.
type InputReader interface {
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own prompt.
// The chat runner hands them the prompt instead of printing it.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// StdinReader reads lines from a plain reader, usually os.Stdin.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader wraps r.
func NewStdinReader(r io.Reader) *StdinReader {
	return &StdinReader{reader: bufio.NewReader(r)}
}

// ReadLine returns the next line. A final line without a newline is
// returned before io.EOF.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader reads input through a bubbletea text field with
// up/down history.
//
// # Keys
//
//   - Enter: submit
//   - Up/Down: walk history
//   - Ctrl+C: discard the current line
//   - Ctrl+D: io.EOF
type InteractiveInputReader struct {
	prompt     string
	history    []string
	maxHistory int
}

// NewInteractiveInputReader returns an InteractiveInputReader when stdin is a
// terminal and a StdinReader otherwise, so piped input keeps working.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader(os.Stdin)
	}
	return &InteractiveInputReader{
		prompt:     "> ",
		maxHistory: maxHistory,
	}
}

// SetPrompt sets the prompt drawn by the text field.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine runs the text field until the user submits.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Placeholder = "Ask a question..."
	ti.Focus()
	ti.CharLimit = 32 * 1024
	ti.Width = 80

	m := newInputModel(ti, r.history)

	finalModel, err := tea.NewProgram(m, tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return "", err
	}
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}
	if result.eof {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) addToHistory(input string) {
	if n := len(r.history); n > 0 && r.history[n-1] == input {
		return
	}
	r.history = append(r.history, input)
	if r.maxHistory > 0 && len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

// inputModel is the bubbletea model behind InteractiveInputReader.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int // -1 when editing a fresh line
	draft        string
	done         bool
	eof          bool
}

func newInputModel(ti textinput.Model, history []string) inputModel {
	return inputModel{textInput: ti, history: history, historyIndex: -1}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	switch key.Type {
	case tea.KeyEnter:
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlC:
		m.textInput.SetValue("")
		m.done = true
		return m, tea.Quit

	case tea.KeyCtrlD:
		m.textInput.SetValue("")
		m.eof = true
		m.done = true
		return m, tea.Quit

	case tea.KeyUp:
		if len(m.history) == 0 {
			return m, nil
		}
		switch {
		case m.historyIndex == -1:
			m.draft = m.textInput.Value()
			m.historyIndex = len(m.history) - 1
		case m.historyIndex > 0:
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

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// isExitCommand reports whether input ends the chat. Case-sensitive.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
