// Package rewrite injects the response metadata footer into proxied bodies.
package rewrite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"forward-proxy-go/internal/model"
)

// Delimiter wraps the JSON footer on both sides.
const Delimiter = `"""`

type footerStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type footerPayload struct {
	Headers map[string]any `json:"headers"`
	Status  footerStatus   `json:"status"`
}

// Capture snapshots the upstream status and headers. Later changes to resp do
// not affect the returned head.
func Capture(resp *http.Response) model.ResponseHead {
	h := resp.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if len(resp.TransferEncoding) > 0 && h.Get("Transfer-Encoding") == "" {
		h.Set("Transfer-Encoding", strings.Join(resp.TransferEncoding, ", "))
	}
	return model.ResponseHead{
		Header:        h,
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp),
	}
}

// statusMessage returns the reason phrase the upstream sent, falling back to
// the standard text for the code.
func statusMessage(resp *http.Response) string {
	if msg, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)); ok {
		return strings.TrimSpace(msg)
	}
	if resp.Status != "" {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}

// Footer renders head as """{"headers":{...},"status":{...}}""".
// Header names are lower-cased; repeated values are joined with ", " except
// set-cookie, which stays a list.
func Footer(head model.ResponseHead) ([]byte, error) {
	headers := make(map[string]any, len(head.Header))
	for name, vals := range head.Header {
		key := strings.ToLower(name)
		if key == "set-cookie" {
			headers[key] = append([]string(nil), vals...)
			continue
		}
		headers[key] = strings.Join(vals, ", ")
	}

	var buf bytes.Buffer
	buf.WriteString(Delimiter)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(footerPayload{
		Headers: headers,
		Status:  footerStatus{Code: head.StatusCode, Message: head.StatusMessage},
	})
	if err != nil {
		return nil, fmt.Errorf("encode footer: %w", err)
	}
	// Encode terminates with a newline.
	buf.Truncate(buf.Len() - 1)
	buf.WriteString(Delimiter)
	return buf.Bytes(), nil
}
