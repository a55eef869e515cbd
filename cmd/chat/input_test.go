// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockInputReader returns predetermined lines, then io.EOF.
type MockInputReader struct {
	inputs []string
	index  int
}

func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

func TestStdinReader(t *testing.T) {
	r := NewStdinReader(strings.NewReader("  hello  \nsecond\nlast"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestIsExitCommand(t *testing.T) {
	assert.True(t, isExitCommand("exit"))
	assert.True(t, isExitCommand("quit"))
	assert.False(t, isExitCommand("EXIT"))
	assert.False(t, isExitCommand("exit now"))
}

func TestInteractiveInputReader_History(t *testing.T) {
	r := &InteractiveInputReader{maxHistory: 2}
	r.addToHistory("one")
	r.addToHistory("one")
	r.addToHistory("two")
	r.addToHistory("three")

	assert.Equal(t, []string{"two", "three"}, r.history)
}

func newTestModel(history []string) inputModel {
	ti := textinput.New()
	ti.Focus()
	return newInputModel(ti, history)
}

func press(m inputModel, k tea.KeyType) inputModel {
	next, _ := m.Update(tea.KeyMsg{Type: k})
	return next.(inputModel)
}

func TestInputModel_HistoryNavigation(t *testing.T) {
	m := newTestModel([]string{"first", "second"})
	m.textInput.SetValue("draft")

	m = press(m, tea.KeyUp)
	assert.Equal(t, "second", m.textInput.Value())
	m = press(m, tea.KeyUp)
	assert.Equal(t, "first", m.textInput.Value())
	m = press(m, tea.KeyUp)
	assert.Equal(t, "first", m.textInput.Value(), "stays at oldest entry")

	m = press(m, tea.KeyDown)
	assert.Equal(t, "second", m.textInput.Value())
	m = press(m, tea.KeyDown)
	assert.Equal(t, "draft", m.textInput.Value())
	assert.Equal(t, -1, m.historyIndex)
}

func TestInputModel_Keys(t *testing.T) {
	t.Run("enter submits", func(t *testing.T) {
		m := newTestModel(nil)
		m.textInput.SetValue("question")
		m = press(m, tea.KeyEnter)
		assert.True(t, m.done)
		assert.False(t, m.eof)
		assert.Equal(t, "question", m.textInput.Value())
		assert.Empty(t, m.View())
	})

	t.Run("ctrl+c clears", func(t *testing.T) {
		m := newTestModel(nil)
		m.textInput.SetValue("partial")
		m = press(m, tea.KeyCtrlC)
		assert.True(t, m.done)
		assert.Empty(t, m.textInput.Value())
	})

	t.Run("ctrl+d is eof", func(t *testing.T) {
		m := press(newTestModel(nil), tea.KeyCtrlD)
		assert.True(t, m.eof)
	})

	t.Run("up with no history", func(t *testing.T) {
		m := press(newTestModel(nil), tea.KeyUp)
		assert.Equal(t, -1, m.historyIndex)
	})
}
