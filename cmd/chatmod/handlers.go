package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/auditstore"
	"github.com/chatmod/chatmod/automod/countstore"
	"github.com/chatmod/chatmod/automod/dispatch"
	"github.com/chatmod/chatmod/automod/event"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("chatmod-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "chatmod", Message: errorMessage})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "chatmod"})
}

func (srv *Server) HandleModerate(c echo.Context) error {
	ctx := c.Request().Context()

	var msg event.Message
	if err := c.Bind(&msg); err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidRequest",
			Message: fmt.Sprintf("%s", err),
		})
	}

	v, err := srv.pipeline.Engine.Ingest(ctx, &msg)
	switch {
	case errors.Is(err, event.ErrMalformedMessage):
		return c.JSON(400, GenericError{
			Error:   "MalformedMessage",
			Message: err.Error(),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(503, GenericError{
			Error:   "NotAdmitted",
			Message: err.Error(),
		})
	case err != nil:
		return err
	}
	return c.JSON(200, v)
}

type SenderStatsResponse struct {
	SenderID string `json:"sender_id"`
	// in-memory admission state; absent if the sender has been idle past the retention window
	Admission *admission.SenderStats `json:"admission,omitempty"`
	Flags     []string               `json:"flags"`
	// all-time verdict counts, by action
	Verdicts          map[event.Action]int `json:"verdicts"`
	ViolationChannels int                  `json:"violation_channels"`
	Recent            []*auditstore.Record `json:"recent,omitempty"`
}

func (srv *Server) HandleSenderStats(c echo.Context) error {
	ctx := c.Request().Context()
	pl := srv.pipeline

	senderID := strings.TrimSpace(c.Param("id"))
	if senderID == "" {
		return c.JSON(400, GenericError{Error: "InvalidRequest", Message: "sender ID required"})
	}

	out := SenderStatsResponse{
		SenderID: senderID,
		Flags:    []string{},
		Verdicts: make(map[event.Action]int, len(event.Actions)),
	}
	if st, ok := pl.Admission.SenderStats(senderID); ok {
		out.Admission = st
	}

	flags, err := pl.Flags.Get(ctx, senderID)
	if err != nil {
		return fmt.Errorf("reading sender flags: %w", err)
	}
	if flags != nil {
		out.Flags = flags
	}

	for _, a := range event.Actions {
		n, err := pl.Counters.GetCount(ctx, dispatch.VerdictCounterName(a), senderID, countstore.PeriodTotal)
		if err != nil {
			return fmt.Errorf("reading verdict counts: %w", err)
		}
		out.Verdicts[a] = n
	}
	out.ViolationChannels, err = pl.Counters.GetCountDistinct(ctx, dispatch.ViolationChannelsName, senderID, countstore.PeriodTotal)
	if err != nil {
		return fmt.Errorf("reading violation channels: %w", err)
	}

	if pl.AuditReader != nil {
		out.Recent, err = pl.AuditReader.RecentBySender(ctx, senderID, 20)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
	}
	return c.JSON(200, out)
}

func (srv *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hdr := c.Request().Header.Get("Authorization")
		tok, ok := strings.CutPrefix(hdr, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(srv.adminToken)) != 1 {
			return c.JSON(401, GenericError{Error: "Unauthorized", Message: "admin token required"})
		}
		return next(c)
	}
}

type ReloadRulesResponse struct {
	Version string `json:"version"`
	Count   int    `json:"count"`
}

func (srv *Server) HandleReloadRules(c echo.Context) error {
	rs, err := srv.pipeline.ReloadRules()
	if err != nil {
		return c.JSON(400, GenericError{
			Error:   "InvalidRules",
			Message: err.Error(),
		})
	}
	return c.JSON(200, ReloadRulesResponse{Version: rs.Version, Count: rs.Len()})
}

type ClearFlagsRequest struct {
	// flags to remove; all of the sender's flags if empty
	Flags []string `json:"flags"`
}

type ClearFlagsResponse struct {
	SenderID string   `json:"sender_id"`
	Removed  []string `json:"removed"`
	Flags    []string `json:"flags"`
}

// Moderator override: clears "warned"/"deleted" flags on a sender, eg after an appeal.
func (srv *Server) HandleClearSenderFlags(c echo.Context) error {
	ctx := c.Request().Context()
	flags := srv.pipeline.Flags

	senderID := strings.TrimSpace(c.Param("id"))
	if senderID == "" {
		return c.JSON(400, GenericError{Error: "InvalidRequest", Message: "sender ID required"})
	}
	var req ClearFlagsRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(400, GenericError{Error: "InvalidRequest", Message: fmt.Sprintf("%s", err)})
		}
	}

	current, err := flags.Get(ctx, senderID)
	if err != nil {
		return fmt.Errorf("reading sender flags: %w", err)
	}
	remove := req.Flags
	if len(remove) == 0 {
		remove = current
	}
	if len(remove) > 0 {
		if err := flags.Remove(ctx, senderID, remove); err != nil {
			return fmt.Errorf("removing sender flags: %w", err)
		}
	}
	after, err := flags.Get(ctx, senderID)
	if err != nil {
		return fmt.Errorf("reading sender flags: %w", err)
	}
	srv.logger.Info("cleared sender flags", "sender", senderID, "removed", remove)

	out := ClearFlagsResponse{SenderID: senderID, Removed: []string{}, Flags: []string{}}
	if remove != nil {
		out.Removed = remove
	}
	if after != nil {
		out.Flags = after
	}
	return c.JSON(200, out)
}
