// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
	"github.com/AleutianAI/vertexchat/services/backend/middleware"
)

// WSRequest is a client message on the chat socket.
//
// Action "reset" drops the connection's conversation handle; any other
// message is a query.
type WSRequest struct {
	Query  string `json:"query"`
	Action string `json:"action,omitempty"`
}

// WSResponse is a server message on the chat socket.
type WSResponse struct {
	Action         string  `json:"action"`
	Reply          string  `json:"reply,omitempty"`
	ConversationID *string `json:"conversation_id"`
	Error          string  `json:"error,omitempty"`
}

// newUpgrader builds the chat socket upgrader. Browser upgrades are
// accepted from the serving host and from the allowed origins only; the
// IAP assertion header is attached to cross-site requests too.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin:     originChecker(allowedOrigins),
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-host origins, and exact matches from allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/")); o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves GET /api/chat/ws.
//
// The upgrade request is authenticated like any other route and must come
// from the serving host or an allowed origin (403 otherwise). The
// connection then carries one conversation: its handle lives only in the
// connection and is sent back with every reply.
func HandleChatWebSocket(runner TurnRunner, deps Deps) gin.HandlerFunc {
	upgrader := newUpgrader(deps.AllowedOrigins)
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "origin", c.GetHeader("Origin"), "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(datatypes.MaxQueryBytes + 1024)

		deps.Metrics.SocketOpened()
		defer deps.Metrics.SocketClosed()

		user := extensions.UnknownEmail
		if info := middleware.GetAuthInfo(c); info != nil {
			user = info.Email
		}
		connID := uuid.New().String()
		route := routeName(c)
		slog.Info("websocket chat connected", "connection_id", connID, "user", user)

		if err := sendJSON(ws, WSResponse{Action: "connected"}); err != nil {
			return
		}

		handle := ""
		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("websocket chat disconnected", "connection_id", connID, "error", err.Error())
				return
			}

			if req.Action == "reset" {
				handle = ""
				if err := sendJSON(ws, WSResponse{Action: "reset"}); err != nil {
					return
				}
				continue
			}

			query := datatypes.QueryRequest{Query: req.Query}
			if err := query.Validate(); err != nil {
				if err := sendJSON(ws, WSResponse{Action: "error", Error: "query must not be blank and must be at most 32KB", ConversationID: optional(handle)}); err != nil {
					return
				}
				continue
			}

			turn, status := runTurn(c.Request.Context(), runner, deps, route, user, req.Query, handle)
			if status != http.StatusOK {
				_ = sendJSON(ws, WSResponse{Action: "error", Error: "conversation service is not configured"})
				return
			}
			handle = turn.Handle
			if err := sendJSON(ws, WSResponse{
				Action:         "reply",
				Reply:          turn.Reply,
				ConversationID: optional(handle),
			}); err != nil {
				return
			}
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
