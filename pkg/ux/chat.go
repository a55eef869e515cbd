// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// HeaderConfig describes the session shown in the chat header.
//
// # Fields
//
//   - BackendURL: the backend the client talks to
//   - Route: the query route, /api/query or /api/noauth
//   - LocalMode: true when no identity token is available
//   - Identity: the email in the token, if it could be decoded
type HeaderConfig struct {
	BackendURL string
	Route      string
	LocalMode  bool
	Identity   string
}

// SessionStats summarizes a chat session at exit.
type SessionStats struct {
	Turns          int
	Errors         int
	Duration       time.Duration
	ConversationID *string
}

// ChatUI renders chat elements. Implementations decide styling from the
// personality level they were created with.
type ChatUI interface {
	// Header displays the title, backend and mode.
	Header(config HeaderConfig)

	// Prompt returns the styled input prompt string
	Prompt() string

	// Assistant displays an assistant message, including the greeting.
	Assistant(text string)

	// LocalMode warns that backend calls are disabled.
	LocalMode()

	// Error displays a failed backend call.
	Error(err error)

	// TokenDetails displays the raw token and its decoded parts.
	TokenDetails(raw string, header, payload map[string]any)

	// Notice displays a short status line, e.g. after /reset or /save.
	Notice(text string)

	// Help lists the in-chat commands.
	Help()

	// SessionEnd displays the session summary.
	SessionEnd(stats SessionStats)
}

// terminalChatUI implements ChatUI for terminal output
type terminalChatUI struct {
	writer      io.Writer
	personality PersonalityLevel
}

// write is a helper that writes formatted output. Terminal write errors
// are not recoverable and are dropped.
func (u *terminalChatUI) write(format string, args ...any) {
	_, _ = fmt.Fprintf(u.writer, format, args...)
}

func (u *terminalChatUI) writeln(args ...any) {
	_, _ = fmt.Fprintln(u.writer, args...)
}

// NewChatUI creates a terminal ChatUI on stdout with the current personality
func NewChatUI() ChatUI {
	return &terminalChatUI{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
	}
}

// NewChatUIWithWriter creates a ChatUI with a custom writer (for testing)
func NewChatUIWithWriter(w io.Writer, personality PersonalityLevel) ChatUI {
	return &terminalChatUI{
		writer:      w,
		personality: personality,
	}
}

func (u *terminalChatUI) Header(config HeaderConfig) {
	switch u.personality {
	case PersonalityMachine:
		parts := []string{
			"backend=" + config.BackendURL,
			"route=" + config.Route,
			fmt.Sprintf("local_mode=%t", config.LocalMode),
		}
		if config.Identity != "" {
			parts = append(parts, "identity="+config.Identity)
		}
		u.write("CHAT_START: %s\n", strings.Join(parts, " "))
		return
	case PersonalityMinimal:
		u.writeln("Secure AI Agent")
		u.write("Backend: %s%s\n", config.BackendURL, config.Route)
		if config.LocalMode {
			u.writeln("Mode: local")
		}
		u.writeln("Type 'exit' to end.")
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Highlight.Render("Secure AI Agent"))
	content.WriteString("\n")
	content.WriteString(Styles.Muted.Render("Powered by Vertex AI Search and secured with IAP"))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("Backend: %s", Styles.Success.Render(config.BackendURL+config.Route)))
	if config.Identity != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Signed in as: %s", Styles.Success.Render(config.Identity)))
	}
	if config.LocalMode {
		content.WriteString("\n")
		content.WriteString(Styles.Warning.Render("Local mode: no identity token"))
	}

	u.writeln(Styles.Box.Width(60).Render(content.String()))
	u.writeln()
	if u.personality == PersonalityFull {
		u.writeln(Styles.Muted.Render("Type 'exit' to end, '/help' for commands."))
		u.writeln()
	}
}

func (u *terminalChatUI) Prompt() string {
	if u.personality == PersonalityMachine {
		return "> "
	}
	return Styles.Highlight.Render("> ")
}

func (u *terminalChatUI) Assistant(text string) {
	switch u.personality {
	case PersonalityMachine:
		u.write("RESPONSE: %s\n", text)
	case PersonalityMinimal:
		u.writeln()
		u.writeln(text)
	default:
		u.writeln()
		u.write("%s %s\n", IconAssistant.Render(), text)
	}
}

func (u *terminalChatUI) LocalMode() {
	if u.personality == PersonalityMachine {
		u.writeln("WARN: local mode, backend calls are disabled")
		return
	}
	u.write("%s %s\n", IconWarning.Render(),
		Styles.Warning.Render("This app is running in local mode. Backend calls are disabled."))
}

func (u *terminalChatUI) Error(err error) {
	if u.personality == PersonalityMachine {
		u.write("CHAT_ERROR: %v\n", err)
		return
	}
	msg := fmt.Sprintf("Error connecting to backend: %v", err)
	if u.personality == PersonalityMinimal {
		u.write("%s %s\n", IconError, msg)
		return
	}
	u.writeln(Styles.ErrorBox.Width(70).Render(Styles.Error.Render(msg)))
}

func (u *terminalChatUI) TokenDetails(raw string, header, payload map[string]any) {
	if u.personality == PersonalityMachine {
		u.write("TOKEN: %s\n", raw)
		u.write("TOKEN_HEADER: %s\n", compactJSON(header))
		u.write("TOKEN_CLAIMS: %s\n", compactJSON(payload))
		return
	}

	var content strings.Builder
	content.WriteString(Styles.Subtitle.Render("Raw JWT Token"))
	content.WriteString("\n")
	content.WriteString(raw)
	content.WriteString("\n\n")
	content.WriteString(Styles.Subtitle.Render("Decoded Header"))
	content.WriteString("\n")
	content.WriteString(indentJSON(header))
	content.WriteString("\n\n")
	content.WriteString(Styles.Subtitle.Render("Decoded Claims"))
	content.WriteString("\n")
	if len(payload) == 0 {
		content.WriteString(Styles.Error.Render("Could not decode JWT"))
	} else {
		content.WriteString(claimsTable(payload))
	}

	if u.personality == PersonalityMinimal {
		u.writeln(content.String())
		return
	}
	u.writeln(Styles.InfoBox.Width(80).Render(content.String()))
}

func (u *terminalChatUI) Notice(text string) {
	switch u.personality {
	case PersonalityMachine:
		u.write("NOTICE: %s\n", text)
	case PersonalityMinimal:
		u.writeln(text)
	default:
		u.write("%s %s\n", IconSuccess.Render(), Styles.Muted.Render(text))
	}
}

// chatCommands lists in-chat commands in display order.
var chatCommands = [][2]string{
	{"/token", "show the identity token and its decoded claims"},
	{"/reset", "start a new conversation"},
	{"/save", "upload the transcript to the configured bucket"},
	{"/help", "show this help"},
	{"exit", "end the session"},
}

func (u *terminalChatUI) Help() {
	if u.personality == PersonalityMachine {
		for _, c := range chatCommands {
			u.write("COMMAND: %s\t%s\n", c[0], c[1])
		}
		return
	}
	for _, c := range chatCommands {
		u.write("  %s %s\n", Styles.Highlight.Render(fmt.Sprintf("%-7s", c[0])), Styles.Muted.Render(c[1]))
	}
}

func (u *terminalChatUI) SessionEnd(stats SessionStats) {
	conv := ""
	if stats.ConversationID != nil {
		conv = *stats.ConversationID
	}

	if u.personality == PersonalityMachine {
		u.write("CHAT_END: turns=%d errors=%d duration=%s conversation=%s\n",
			stats.Turns, stats.Errors, stats.Duration.Round(time.Millisecond), conv)
		return
	}

	if u.personality == PersonalityMinimal {
		u.write("%d turns in %s\n", stats.Turns, formatDuration(stats.Duration))
		u.writeln("Goodbye!")
		return
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("Turns: %s  Duration: %s",
		Styles.Success.Render(fmt.Sprintf("%d", stats.Turns)),
		Styles.Success.Render(formatDuration(stats.Duration))))
	if stats.Errors > 0 {
		content.WriteString(fmt.Sprintf("  Errors: %s", Styles.Error.Render(fmt.Sprintf("%d", stats.Errors))))
	}
	if conv != "" {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("Conversation: %s", Styles.Muted.Render(conv)))
	}
	u.writeln()
	u.writeln(Styles.Box.Width(70).Render(content.String()))
	u.writeln("Goodbye!")
}

// formatDuration converts a duration to a short human-readable string.
//
//	formatDuration(450 * time.Millisecond) // "450ms"
//	formatDuration(75 * time.Second)       // "1m 15s"
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// claimsTable renders claims one per line in key order, converting
// iat/exp/nbf to UTC timestamps.
func claimsTable(claims map[string]any) string {
	keys := make([]string, 0, len(claims))
	width := 0
	for k := range claims {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		v := claims[k]
		if secs, ok := v.(float64); ok && (k == "exp" || k == "iat" || k == "nbf") {
			v = fmt.Sprintf("%.0f (%s)", secs, time.Unix(int64(secs), 0).UTC().Format(time.RFC3339))
		}
		b.WriteString(fmt.Sprintf("%-*s  %v", width, k, v))
		if i < len(keys)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
