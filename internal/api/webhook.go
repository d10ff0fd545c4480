package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"sweepbot/internal/bot"
	"sweepbot/internal/model"
)

// Trigger actions recognized in webhook messages.
const (
	ActionCleanup  = "cleanup"
	ActionSimulate = "simulate"
)

type webhookEvent struct {
	Event     string `json:"event"`
	WebsiteID string `json:"website_id"`
	Data      struct {
		SessionID string          `json:"session_id"`
		Content   json.RawMessage `json:"content"`
	} `json:"data"`
}

// ParseTrigger recognizes "!cleanup <filter name>" and "!simulate <filter name>".
func ParseTrigger(text string) (action, filterName string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", "", false
	}
	cmd, rest, _ := strings.Cut(text[1:], " ")
	action = strings.ToLower(cmd)
	if action != ActionCleanup && action != ActionSimulate {
		return "", "", false
	}
	filterName = strings.TrimSpace(rest)
	if filterName == "" {
		return "", "", false
	}
	return action, filterName, true
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid webhook secret"})
		return
	}

	var ev webhookEvent
	if err := decode(r, &ev); err != nil {
		s.writeError(w, err)
		return
	}
	if ev.WebsiteID == "" {
		s.writeError(w, &model.ValidationError{Field: "website_id", Msg: "is required"})
		return
	}

	var text string
	if err := json.Unmarshal(ev.Data.Content, &text); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}
	action, name, ok := ParseTrigger(text)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": true})
		return
	}

	ctx := r.Context()
	tenant := ev.WebsiteID
	log := s.log.With(zap.String("tenant", tenant), zap.String("action", action), zap.String("filter", name))

	f, found, err := s.registry.Find(ctx, tenant, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, &model.NotFoundError{Kind: "filter", ID: name})
		return
	}
	log.Info("webhook trigger")

	var (
		summary string
		status  int
		payload any
	)
	switch action {
	case ActionSimulate:
		res := s.cleaner.Simulate(ctx, tenant, f.ID)
		summary = bot.FormatSimulate(tenant, f.Name, res)
		status, payload = statusFor(res.Err), res
	default:
		res := s.cleaner.Run(ctx, tenant, f.ID, false, nil)
		summary = bot.FormatRunSummary(tenant, f.Name, res)
		status, payload = statusFor(res.Err), res
	}

	if s.replier != nil && ev.Data.SessionID != "" {
		err := s.exec.Do(ctx, "send message", func(ctx context.Context) error {
			return s.replier.SendMessage(ctx, tenant, ev.Data.SessionID, summary)
		})
		if err != nil {
			// The trigger conversation may have been deleted by the run itself.
			var nf *model.NotFoundError
			if !errors.As(err, &nf) {
				log.Warn("reply to conversation", zap.Error(err))
			}
		}
	}
	writeJSON(w, status, payload)
}
