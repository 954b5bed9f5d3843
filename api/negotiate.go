package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

const (
	mediaText = "text/plain"
	mediaJSON = "application/json"

	maxBodyBytes = 1 << 20
)

// acceptPriority is the server's own preference among the media types it
// understands, used to break ties between equal q values.
var acceptPriority = map[string]int{
	"text/plain":       4,
	"application/json": 3,
	"text/*":           2,
	"application/*":    1,
	"*/*":              0,
}

// priorityMedia maps the winning priority to the representation used.
var priorityMedia = [...]string{mediaText, mediaJSON, mediaText, mediaJSON, mediaText}

// errorMediaType picks the error representation for an Accept header.
// Unsupported media ranges are ignored; an empty header means */*. Errors
// are plain text unless the client prefers JSON.
func errorMediaType(accept string) string {
	header := strings.Join(strings.Fields(accept), "")
	if header == "" {
		header = "*/*"
	}

	maxQ := 0.0
	priority := 0
	for _, choice := range strings.Split(header, ",") {
		params := strings.Split(choice, ";")
		p, ok := acceptPriority[strings.ToLower(params[0])]
		if !ok {
			continue
		}
		q := 1.0
		for _, param := range params[1:] {
			if v, found := strings.CutPrefix(param, "q="); found {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					q = f
				}
				break
			}
		}
		switch {
		case q <= 0 || q < maxQ:
		case q > maxQ:
			maxQ = q
			priority = p
		case p > priority:
			priority = p
		}
	}
	return priorityMedia[priority]
}

func errorMediaTypeFromRequest(r *http.Request) string {
	if m, ok := r.Context().Value(errorMediaKey).(string); ok {
		return m
	}
	accept, ok := r.Header["Accept"]
	if !ok {
		return mediaText
	}
	return errorMediaType(strings.Join(accept, ","))
}

// negotiate records the error representation for the rest of the chain.
func (a *API) negotiate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), errorMediaKey, errorMediaTypeFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Payload is the canonical form of a request body, whichever encoding the
// client used.
type Payload map[string]any

// String returns the string value of key, or "".
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Bool interprets key as a boolean flag. Form encodings send "true", "1"
// or "on".
func (p Payload) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b || v == "on"
	case json.Number:
		return v.String() != "0"
	}
	return false
}

// Strings returns a list value. A JSON array, repeated form fields and a
// comma-separated string are all accepted.
func (p Payload) Strings(key string) ([]string, bool) {
	var out []string
	switch v := p[key].(type) {
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
	case []string:
		for _, s := range v {
			out = append(out, splitList(s)...)
		}
	case string:
		out = splitList(v)
	case nil:
		return nil, false
	default:
		return nil, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func payloadFromContext(ctx context.Context) Payload {
	p, _ := ctx.Value(payloadKey).(Payload)
	if p == nil {
		return Payload{}
	}
	return p
}

// parseBody decodes POST, PUT and PATCH bodies into a Payload. Only
// form-urlencoded and JSON bodies are accepted; a missing Content-Type is
// treated as form-urlencoded.
func (a *API) parseBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		payload, err := readPayload(r)
		if err != nil {
			a.renderError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), payloadKey, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func readPayload(r *http.Request) (Payload, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/x-www-form-urlencoded"
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, errContentTypeUnsupported
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if r.Header.Get("Content-Type") == "" {
			r.Header.Set("Content-Type", mediaType)
		}
		if err := r.ParseForm(); err != nil {
			return nil, errContentMalformed
		}
		p := make(Payload, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) == 1 {
				p[k] = v[0]
			} else {
				p[k] = v
			}
		}
		return p, nil
	case mediaJSON:
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var p Payload
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				return Payload{}, nil
			}
			return nil, errContentMalformed
		}
		if p == nil {
			p = Payload{}
		}
		return p, nil
	default:
		return nil, errContentTypeUnsupported
	}
}
