// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatclient

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	// Greeting opens every transcript.
	Greeting = "Hello! How can I help you today?"

	// LocalModeReply answers every message when no identity token exists.
	LocalModeReply = "I am in local mode. I cannot connect to the backend."

	// ErrorReply stands in for the answer when the backend call failed.
	// The error itself is shown separately.
	ErrorReply = "An error occurred. Please check the details above."
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Transcript is the local chat history plus the current conversation handle.
// Safe for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	handle   *string
	now      func() time.Time
}

// NewTranscript returns a transcript holding only the greeting.
func NewTranscript() *Transcript {
	t := &Transcript{now: time.Now}
	t.messages = []Message{{Role: RoleAssistant, Content: Greeting, Time: t.now()}}
	return t
}

// AddUser appends a user message.
func (t *Transcript) AddUser(content string) {
	t.add(RoleUser, content)
}

// AddAssistant appends an assistant message.
func (t *Transcript) AddAssistant(content string) {
	t.add(RoleAssistant, content)
}

func (t *Transcript) add(role Role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, Message{Role: role, Content: content, Time: t.now()})
}

// Messages returns a copy of the history.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Handle returns the conversation handle to send with the next turn.
func (t *Transcript) Handle() *string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.handle == nil {
		return nil
	}
	h := *t.handle
	return &h
}

// SetHandle stores the handle returned by the backend. Nil or "" clears it.
func (t *Transcript) SetHandle(handle *string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handle == nil || *handle == "" {
		t.handle = nil
		return
	}
	h := *handle
	t.handle = &h
}

// Reset drops history and handle and starts again from the greeting.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = []Message{{Role: RoleAssistant, Content: Greeting, Time: t.now()}}
	t.handle = nil
}

// Export encodes the transcript as indented JSON.
func (t *Transcript) Export() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.MarshalIndent(struct {
		ConversationID *string   `json:"conversation_id"`
		Messages       []Message `json:"messages"`
	}{t.handle, t.messages}, "", "  ")
}
