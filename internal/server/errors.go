package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/staticserve/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]struct {
	Title   string
	Heading string
	Message string
}{
	http.StatusBadRequest: {
		Title:   "400 Bad Request",
		Heading: "Bad Request",
		Message: "The server cannot or will not process the request due to an apparent client error.",
	},
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method specified in the Request-Line is not allowed for the resource identified by the Request-URI.",
	},
	http.StatusTooManyRequests: {
		Title:   "429 Too Many Requests",
		Heading: "Too Many Requests",
		Message: "The server is receiving too many requests. Please retry later.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusServiceUnavailable: {
		Title:   "503 Service Unavailable",
		Heading: "Service Unavailable",
		Message: "The server did not finish the request in time.",
	},
}

// PrefersJSON checks if the client prefers application/json based on the Accept header.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool // false for type/* and */*
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType := part
		qValue := 1.0

		if idx := strings.Index(part, ";"); idx != -1 {
			mediaType = strings.TrimSpace(part[:idx])
			for _, param := range strings.Split(part[idx+1:], ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(param, "q=") {
					continue
				}
				q, err := strconv.ParseFloat(param[2:], 64)
				if err != nil || q < 0 || q > 1 {
					q = 0
				}
				qValue = q
				break
			}
		}

		// A media type with q=0 is not acceptable (RFC 7231 5.3.2).
		if qValue > 0 {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         qValue,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}

	if len(offers) == 0 {
		return false
	}

	// Higher q first, then concrete types over wildcards, then header order.
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a default error page for statusCode. The body is JSON
// when the request's Accept header prefers it and HTML otherwise. HEAD requests
// get the headers only. extraHeaders (e.g. Allow) are copied onto the response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, detailMessage string, extraHeaders http.Header, log *logger.Logger) {
	if log != nil {
		log.Debug("Writing error response", logger.LogFields{
			"status_code": statusCode,
			"detail":      detailMessage,
		})
	}
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	acceptHeaderValue := ""
	if r != nil {
		acceptHeaderValue = r.Header.Get("Accept")
	}

	var body []byte
	var contentType string
	jsonMarshalFailed := false

	shouldSendJSON := PrefersJSON(acceptHeaderValue)
	if shouldSendJSON {
		contentType = "application/json; charset=utf-8"
		var marshalErr error
		body, marshalErr = jsonMarshalFunc(ErrorResponseJSON{
			Error: ErrorDetail{
				StatusCode: statusCode,
				Message:    statusText,
				Detail:     detailMessage,
			},
		})
		if marshalErr != nil {
			if log != nil {
				log.Error("Failed to marshal JSON error response, falling back to HTML.", logger.LogFields{"error": marshalErr.Error(), "status_code": statusCode})
			}
			jsonMarshalFailed = true
		}
	}

	if !shouldSendJSON || jsonMarshalFailed {
		contentType = "text/html; charset=utf-8"
		var title, heading, message string
		defaults, isKnownCode := defaultHTMLMessages[statusCode]
		if isKnownCode {
			title, heading, message = defaults.Title, defaults.Heading, defaults.Message
		} else {
			title = fmt.Sprintf("%d %s", statusCode, statusText)
			heading = statusText
			message = "The server encountered an error processing your request."
		}

		if detailMessage != "" {
			escapedDetail := html.EscapeString(detailMessage)
			if isKnownCode {
				message = message + " " + escapedDetail
			} else {
				message = escapedDetail
			}
		}
		body = GenerateHTMLResponseBody(title, heading, message)
	}

	h := w.Header()
	for name, values := range extraHeaders {
		h[name] = values
	}
	// Validators or encodings set before the failure must not leak into the error page.
	for _, name := range []string{"Content-Encoding", "Content-Range", "ETag", "Last-Modified", "Accept-Ranges", "Vary"} {
		h.Del(name)
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(statusCode)

	if r != nil && r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil && log != nil {
		log.Error("Failed to send error response body.", logger.LogFields{"error": err.Error(), "status_code": statusCode})
	}
}

// GenerateHTMLResponseBody creates a simple HTML error page. message is inserted verbatim.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(heading), message))
}

// TestingOnlySetJSONMarshal is used by tests to mock json.Marshal behavior.
func TestingOnlySetJSONMarshal(fn func(v interface{}) ([]byte, error)) func(v interface{}) ([]byte, error) {
	original := jsonMarshalFunc
	jsonMarshalFunc = fn
	return original
}
