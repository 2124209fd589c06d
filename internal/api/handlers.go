package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type createRequest struct {
	OwnerID         int64  `json:"owner_id"`
	OwnerName       string `json:"owner_name"`
	ChatID          int64  `json:"chat_id"`
	ThreadID        int    `json:"thread_id"`
	OriginMessageID int    `json:"origin_message_id"`
	// Exactly one of DueAt (RFC3339) and In (Go duration) is set.
	DueAt string `json:"due_at"`
	In    string `json:"in"`
	Body  string `json:"body"`
}

type listResponse struct {
	Reminders []reminder.Reminder `json:"reminders"`
}

func (s *Server) createReminder(c echo.Context) error {
	var in createRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json body").SetInternal(err)
	}
	if in.OwnerID == 0 || in.ChatID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id and chat_id are required")
	}
	now := s.cfg.Now()
	due, err := dueTime(in, now)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !due.After(now) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "due time is in the past")
	}
	if due.After(now.Add(reminder.MaxAhead)) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "due time is too far in the future")
	}
	if s.cfg.MaxBody > 0 && utf8.RuneCountInString(in.Body) > s.cfg.MaxBody {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("body longer than %d characters", s.cfg.MaxBody))
	}

	r, err := s.svc.Create(c.Request().Context(), reminder.Reminder{
		OwnerID:         in.OwnerID,
		OwnerName:       strings.TrimSpace(in.OwnerName),
		ChatID:          in.ChatID,
		ThreadID:        in.ThreadID,
		OriginMessageID: in.OriginMessageID,
		OriginAt:        now,
		DueAt:           due,
		Body:            in.Body,
	})
	if errors.Is(err, reminder.ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	s.log.Info("reminder created via api",
		logx.Int64("reminder_id", r.ID),
		logx.Int64("chat_id", r.ChatID),
		logx.String("subject", subject(c)),
	)
	return c.JSON(http.StatusCreated, r)
}

func dueTime(in createRequest, now time.Time) (time.Time, error) {
	switch {
	case in.DueAt != "" && in.In != "":
		return time.Time{}, errors.New("set only one of due_at and in")
	case in.DueAt != "":
		t, err := time.Parse(time.RFC3339, in.DueAt)
		if err != nil {
			return time.Time{}, errors.New("due_at must be RFC3339")
		}
		return t, nil
	case in.In != "":
		d, err := time.ParseDuration(in.In)
		if err != nil {
			return time.Time{}, errors.New("in must be a duration like 90m")
		}
		return now.Add(d), nil
	default:
		return time.Time{}, errors.New("due_at or in is required")
	}
}

func (s *Server) getReminder(c echo.Context) error {
	id, err := pathInt(c, "id")
	if err != nil {
		return err
	}
	r, err := s.svc.Get(c.Request().Context(), id)
	if errors.Is(err, reminder.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "reminder not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// deleteReminder requires owner_id; a reminder of another owner reads as
// not found.
func (s *Server) deleteReminder(c echo.Context) error {
	id, err := pathInt(c, "id")
	if err != nil {
		return err
	}
	owner, err := strconv.ParseInt(c.QueryParam("owner_id"), 10, 64)
	if err != nil || owner == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id query parameter is required")
	}
	n, err := s.svc.Cancel(c.Request().Context(), 0, owner, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "reminder not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listReminders(c echo.Context) error {
	chatID, err := pathInt(c, "chat_id")
	if err != nil {
		return err
	}
	ownerID, err := pathInt(c, "owner_id")
	if err != nil {
		return err
	}
	items, err := s.svc.List(c.Request().Context(), chatID, ownerID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []reminder.Reminder{}
	}
	return c.JSON(http.StatusOK, listResponse{Reminders: items})
}

func pathInt(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

func subject(c echo.Context) string {
	s, _ := c.Get(subjectKey).(string)
	return s
}
