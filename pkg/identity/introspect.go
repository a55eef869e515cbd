// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// segmentParser decodes base64url token segments, with or without padding.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Introspect decodes a token's header and payload without verifying it.
//
// The result is for display only and must never drive an authorization
// decision. Any failure (wrong segment count, bad encoding, a segment
// that is not a JSON object) yields two empty, non-nil maps.
func Introspect(raw string) (header, payload map[string]any) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return map[string]any{}, map[string]any{}
	}

	header, ok := decodeSegment(parts[0])
	if !ok {
		return map[string]any{}, map[string]any{}
	}
	payload, ok = decodeSegment(parts[1])
	if !ok {
		return map[string]any{}, map[string]any{}
	}
	return header, payload
}

func decodeSegment(seg string) (map[string]any, bool) {
	b, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
