package api

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"similarusers/internal/errors"
)

// Result-count bounds for the k parameter.
const (
	minSimilar = 1
	maxSimilar = 250
)

// QueryParams represents the parsed /similarusers query parameters
type QueryParams struct {
	UserText   string
	NumSimilar int
	Followup   bool
}

// ParseQueryParams extracts and validates query parameters from the request.
// The user identity is normalized to the wiki's user naming convention:
// a leading "User:" prefix is stripped, spaces become underscores and the
// first rune is upper-cased. A non-numeric k falls back to the default; a
// numeric one is clamped to [1, 250].
func (s *Server) ParseQueryParams(r *http.Request) (*QueryParams, *errors.ServiceError) {
	query := r.URL.Query()

	userText := query.Get("usertext")
	if userText == "" {
		return nil, errors.New(errors.InvalidArgument,
			`missing usertext -- e.g., "Isaac (WMF)" for https://en.wikipedia.org/wiki/User:Isaac_(WMF)`)
	}

	numSimilar := s.cfg.Query.DefaultK
	if kStr := query.Get("k"); kStr != "" {
		if k, err := strconv.Atoi(kStr); err == nil {
			if k < minSimilar {
				k = minSimilar
			}
			if k > maxSimilar {
				k = maxSimilar
			}
			numSimilar = k
		}
	}

	if strings.HasPrefix(strings.ToLower(userText), "user:") {
		userText = userText[5:]
	}
	if userText == "" {
		return nil, errors.New(errors.InvalidArgument,
			`missing usertext -- e.g., "Isaac (WMF)" for https://en.wikipedia.org/wiki/User:Isaac_(WMF)`)
	}
	userText = NormalizeUserText(userText)

	_, followup := query["followup"]

	return &QueryParams{
		UserText:   userText,
		NumSimilar: numSimilar,
		Followup:   followup,
	}, nil
}

// NormalizeUserText applies the wiki's "User" naming convention: spaces
// become underscores and the first rune is upper-cased.
func NormalizeUserText(userText string) string {
	userText = strings.ReplaceAll(userText, " ", "_")
	r, size := utf8.DecodeRuneInString(userText)
	if r == utf8.RuneError {
		return userText
	}
	return string(unicode.ToUpper(r)) + userText[size:]
}
