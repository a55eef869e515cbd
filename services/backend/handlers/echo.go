// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
	"github.com/AleutianAI/vertexchat/services/backend/middleware"
)

// HandleEcho serves GET /api/echo?query=...
//
// It returns the query and the caller's token in raw and decoded form.
// The request has already been authenticated; decoding here is for
// display only.
func HandleEcho() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := middleware.GetRawToken(c)
		header, payload := identity.Introspect(raw)
		c.JSON(http.StatusOK, datatypes.EchoResponse{
			Echo: c.Query("query"),
			JWTDetails: datatypes.JWTDetails{
				RawToken:       raw,
				DecodedHeader:  header,
				DecodedPayload: payload,
			},
		})
	}
}
