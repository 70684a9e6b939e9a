// Package api holds the business HTTP handlers of messaged.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/StricklySoft/messaged/pkg/auth"
	"github.com/StricklySoft/messaged/pkg/config"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// Paging defaults for GET /getMessage.
const (
	DefaultPage = 0
	DefaultSize = 20
)

// MessagePrefix precedes the username in the GET /getMessage body.
const MessagePrefix = "It works. User logged: "

// PageRequest carries the paging parameters of GET /getMessage. They are
// validated but do not change the response.
type PageRequest struct {
	Page int `json:"page" validate:"gte=0"`
	Size int `json:"size" validate:"gte=1"`
}

// ParsePageRequest reads page and size from q, applying the defaults for
// absent or empty values.
func ParsePageRequest(q url.Values) (PageRequest, error) {
	req := PageRequest{Page: DefaultPage, Size: DefaultSize}

	var err error
	if req.Page, err = intParam(q, "page", DefaultPage); err != nil {
		return PageRequest{}, err
	}
	if req.Size, err = intParam(q, "size", DefaultSize); err != nil {
		return PageRequest{}, err
	}
	if err := config.ValidateStruct(&req); err != nil {
		return PageRequest{}, err
	}
	return req, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, sserr.Newf(sserr.CodeValidationFormat, "query parameter %q must be an integer", name).
			WithDetail(name, raw)
	}
	return n, nil
}

// MessageHandler serves GET /getMessage.
type MessageHandler struct {
	logger *slog.Logger
}

// NewMessageHandler returns a handler. A nil logger uses slog.Default().
func NewMessageHandler(logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{logger: logger}
}

// Routes registers the handler on r behind auth.RequireAuthenticated.
func (h *MessageHandler) Routes(r chi.Router) {
	r.With(auth.RequireAuthenticated).Get("/getMessage", h.GetMessage)
}

// GetMessage responds with the logged-in user's preferred username.
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := ParsePageRequest(r.URL.Query())
	if err != nil {
		sserr.WriteHTTP(w, err)
		return
	}

	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		// RequireAuthenticated runs first, so this is a routing mistake.
		requestID, _ := auth.RequestIDFromContext(ctx)
		h.logger.ErrorContext(ctx, "getMessage reached without a principal",
			"error", err,
			"request_id", requestID,
		)
		sserr.WriteHTTP(w, sserr.Wrap(err, sserr.CodeInternal, "principal unavailable"))
		return
	}

	h.logger.DebugContext(ctx, "serving message",
		"subject", p.Subject(),
		"page", page.Page,
		"size", page.Size,
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, MessagePrefix+p.PreferredUsername())
}
