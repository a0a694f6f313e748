package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"relaygate/internal/dispatch"
	"relaygate/internal/health"
	"relaygate/pkg/logx"
)

type handlers struct {
	pipeline *dispatch.Pipeline
	reporter *health.Reporter
	log      logx.Logger
}

// handleHealth reports listener liveness and directory reachability.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.reporter.Check(r.Context())
	writeJSON(w, report.HTTPCode(), report)
}

// handleSend accepts a group-targeted message and fans it out.
func (h *handlers) handleSend(w http.ResponseWriter, r *http.Request) {
	if !isJSONRequest(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type: application/json expected")
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, verr := dispatch.Validate(raw, h.pipeline.MaxMessageLength())
	if verr != nil {
		code := http.StatusBadRequest
		if verr.Kind == dispatch.MessageTooLong {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, code, verr.Message)
		return
	}

	result, err := h.pipeline.Dispatch(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "api key not valid for this group")
		case errors.Is(err, dispatch.ErrUpstreamUnavailable):
			writeError(w, http.StatusBadGateway, "message delivery failed: upstream not responding")
		case r.Context().Err() != nil:
			// Client went away mid-dispatch; nothing to report to.
			h.log.Debug("client disconnected during dispatch", logx.String("group", req.GroupName))
		default:
			h.log.Error("dispatch failed", logx.String("group", req.GroupName), logx.Err(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if result.Status == dispatch.StatusEmpty {
		writeJSON(w, http.StatusOK, emptyGroupResponse{
			Status:  "ok",
			SentTo:  []string{},
			Message: "group has no active chats",
		})
		return
	}

	code := http.StatusOK
	switch result.Status {
	case dispatch.StatusSuccess:
		code = http.StatusCreated
	case dispatch.StatusPartial:
		code = http.StatusMultiStatus
	}

	// failed stays null on full success.
	var failed any
	if len(result.Failed) > 0 {
		failed = result.Failed
	}
	writeJSON(w, code, sendResponse{
		Status:      string(result.Status),
		SentTo:      result.SentTo,
		Failed:      failed,
		TotalTarget: result.TotalTargets,
	})
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json"
}
