package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/logging"
	"github.com/example/assistant-calendar/internal/scheduler"
)

type meetingService interface {
	Schedule(ctx context.Context, params application.ScheduleMeetingParams) (application.ScheduleResult, error)
	GetMeeting(ctx context.Context, principal application.Principal, meetingID string) (application.Meeting, error)
	Cancel(ctx context.Context, params application.MeetingActionParams) (application.Meeting, error)
	Reschedule(ctx context.Context, params application.RescheduleMeetingParams) (application.Meeting, error)
	Start(ctx context.Context, params application.MeetingActionParams) (application.Meeting, error)
	Complete(ctx context.Context, params application.MeetingActionParams) (application.Meeting, error)
	Respond(ctx context.Context, params application.RespondParams) (application.Meeting, error)
	UserSchedule(ctx context.Context, params application.UserScheduleParams) ([]application.Meeting, error)
	AvailableSlots(ctx context.Context, params application.AvailableSlotsParams) (application.AvailableSlotsResult, error)
}

const dateLayout = "2006-01-02"

type MeetingHandler struct {
	service   meetingService
	responder responder
	logger    *slog.Logger
}

func NewMeetingHandler(service meetingService, logger *slog.Logger) *MeetingHandler {
	base := logging.OrDefault(logger)
	return &MeetingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *MeetingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "MeetingHandler", operation, attrs...)
}

func (h *MeetingHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

// Schedule handles POST /meetings.
func (h *MeetingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req scheduleMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	input, vErr := req.toInput()
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.Schedule(r.Context(), application.ScheduleMeetingParams{
		Principal: principal,
		Input:     input,
	})
	if err != nil {
		h.log(r.Context(), "Schedule").InfoContext(r.Context(), "meeting not scheduled", "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, scheduleMeetingResponse{
		Meeting:          toMeetingDTO(result.Meeting),
		NotificationSent: result.NotificationSent,
	})
}

// Get handles GET /meetings/{id}.
func (h *MeetingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	meetingID, ok := meetingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.GetMeeting(r.Context(), principal, meetingID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Cancel handles POST /meetings/{id}/cancel.
func (h *MeetingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.action(w, r, "Cancel", h.service.Cancel)
}

// Start handles POST /meetings/{id}/start.
func (h *MeetingHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.action(w, r, "Start", h.service.Start)
}

// Complete handles POST /meetings/{id}/complete.
func (h *MeetingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.action(w, r, "Complete", h.service.Complete)
}

func (h *MeetingHandler) action(w http.ResponseWriter, r *http.Request, operation string, run func(context.Context, application.MeetingActionParams) (application.Meeting, error)) {
	meetingID, ok := meetingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := run(r.Context(), application.MeetingActionParams{Principal: principal, MeetingID: meetingID})
	if err != nil {
		h.log(r.Context(), operation, "meeting_id", meetingID).InfoContext(r.Context(), "meeting action rejected", "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Reschedule handles PUT /meetings/{id}/time.
func (h *MeetingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	meetingID, ok := meetingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	start, end, vErr := parseWindow(req.StartTime, req.EndTime)
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.Reschedule(r.Context(), application.RescheduleMeetingParams{
		Principal: principal,
		MeetingID: meetingID,
		Start:     start,
		End:       end,
	})
	if err != nil {
		h.log(r.Context(), "Reschedule", "meeting_id", meetingID).InfoContext(r.Context(), "meeting not rescheduled", "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// Respond handles POST /meetings/{id}/respond.
func (h *MeetingHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	meetingID, ok := meetingIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidMeetingID)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	meeting, err := h.service.Respond(r.Context(), application.RespondParams{
		Principal: principal,
		MeetingID: meetingID,
		Status:    scheduler.AttendanceStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, meetingResponse{Meeting: toMeetingDTO(meeting)})
}

// AvailableSlots handles POST /meetings/available-slots with a JSON body and
// GET with the same fields as query parameters.
func (h *MeetingHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req availableSlotsRequest
	if r.Method == http.MethodGet {
		var vErr *application.ValidationError
		req, vErr = availableSlotsFromQuery(r.URL.Query())
		if vErr != nil {
			h.responder.handleServiceError(r.Context(), w, vErr)
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, vErr := req.toParams(principal)
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	result, err := h.service.AvailableSlots(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAvailableSlotsResponse(result))
}

// UserSchedule handles GET /users/{id}/schedule?days=N.
func (h *MeetingHandler) UserSchedule(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}

	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, fieldError("days", "days must be a whole number"))
			return
		}
		days = parsed
	}

	principal, _ := PrincipalFromContext(r.Context())
	meetings, err := h.service.UserSchedule(r.Context(), application.UserScheduleParams{
		Principal: principal,
		UserID:    userID,
		Days:      days,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, userScheduleResponse{
		UserID:   userID,
		Meetings: toMeetingDTOs(meetings),
		Total:    len(meetings),
	})
}

func meetingIDParam(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	return id, id != ""
}

func fieldError(field, message string) *application.ValidationError {
	return &application.ValidationError{FieldErrors: map[string]string{field: message}}
}

func parseWindow(startValue, endValue string) (time.Time, time.Time, *application.ValidationError) {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	start, ok := parseTime(startValue)
	if !ok {
		vErr.FieldErrors["start"] = "startTime must be an ISO-8601 timestamp"
	}
	end, ok := parseTime(endValue)
	if !ok {
		vErr.FieldErrors["end"] = "endTime must be an ISO-8601 timestamp"
	}
	if vErr.HasErrors() {
		return time.Time{}, time.Time{}, vErr
	}
	return start, end, nil
}

type scheduleMeetingRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ParticipantEmails []string `json:"participantEmails"`
	StartTime         string   `json:"startTime"`
	EndTime           string   `json:"endTime"`
	Location          string   `json:"location"`
	MeetingType       string   `json:"meetingType"`
}

func (r scheduleMeetingRequest) toInput() (application.MeetingInput, *application.ValidationError) {
	start, end, vErr := parseWindow(r.StartTime, r.EndTime)
	if vErr != nil {
		return application.MeetingInput{}, vErr
	}
	return application.MeetingInput{
		Title:        r.Title,
		Description:  r.Description,
		Location:     r.Location,
		MeetingType:  r.MeetingType,
		Start:        start,
		End:          end,
		Participants: append([]string(nil), r.ParticipantEmails...),
	}, nil
}

type rescheduleRequest struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type respondRequest struct {
	Status string `json:"status"`
}

type workingHoursDTO struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type availableSlotsRequest struct {
	ParticipantEmails []string         `json:"participantEmails"`
	Date              string           `json:"date"`
	Duration          int              `json:"duration"`
	WorkingHours      *workingHoursDTO `json:"workingHours"`
}

func availableSlotsFromQuery(values url.Values) (availableSlotsRequest, *application.ValidationError) {
	req := availableSlotsRequest{
		ParticipantEmails: parseCSV(values.Get("participants")),
		Date:              strings.TrimSpace(values.Get("date")),
	}
	if raw := strings.TrimSpace(values.Get("duration")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return req, fieldError("duration", "duration must be a whole number of minutes")
		}
		req.Duration = minutes
	}
	startRaw := strings.TrimSpace(values.Get("workingHoursStart"))
	endRaw := strings.TrimSpace(values.Get("workingHoursEnd"))
	if startRaw != "" || endRaw != "" {
		start, startErr := strconv.Atoi(startRaw)
		end, endErr := strconv.Atoi(endRaw)
		if startErr != nil || endErr != nil {
			return req, fieldError("working_hours", "workingHoursStart and workingHoursEnd must both be whole hours")
		}
		req.WorkingHours = &workingHoursDTO{Start: start, End: end}
	}
	return req, nil
}

func (r availableSlotsRequest) toParams(principal application.Principal) (application.AvailableSlotsParams, *application.ValidationError) {
	params := application.AvailableSlotsParams{
		Principal:       principal,
		Participants:    append([]string(nil), r.ParticipantEmails...),
		DurationMinutes: r.Duration,
	}
	if date := strings.TrimSpace(r.Date); date != "" {
		day, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return params, fieldError("date", "date must use the YYYY-MM-DD format")
		}
		params.Date = day
	}
	if r.WorkingHours != nil {
		params.WorkingHours = &scheduler.WorkingHours{Start: r.WorkingHours.Start, End: r.WorkingHours.End}
	}
	return params, nil
}

type scheduleMeetingResponse struct {
	Meeting          meetingDTO `json:"meeting"`
	NotificationSent bool       `json:"notificationSent"`
}

type meetingResponse struct {
	Meeting meetingDTO `json:"meeting"`
}

type userScheduleResponse struct {
	UserID   string       `json:"userId"`
	Meetings []meetingDTO `json:"meetings"`
	Total    int          `json:"total"`
}

type meetingDTO struct {
	ID           string           `json:"id"`
	OrganizerID  string           `json:"organizerId"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	Location     string           `json:"location,omitempty"`
	MeetingType  string           `json:"meetingType,omitempty"`
	StartTime    string           `json:"startTime"`
	EndTime      string           `json:"endTime"`
	Status       string           `json:"status"`
	Participants []participantDTO `json:"participants"`
	CreatedAt    string           `json:"createdAt"`
	UpdatedAt    string           `json:"updatedAt"`
}

type participantDTO struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Status      string `json:"status"`
}

func toMeetingDTO(meeting application.Meeting) meetingDTO {
	participants := make([]participantDTO, 0, len(meeting.Participants))
	for _, p := range meeting.Participants {
		participants = append(participants, participantDTO{
			UserID:      p.UserID,
			Email:       p.Email,
			DisplayName: p.DisplayName,
			Status:      string(p.Status),
		})
	}
	return meetingDTO{
		ID:           meeting.ID,
		OrganizerID:  meeting.OrganizerID,
		Title:        meeting.Title,
		Description:  meeting.Description,
		Location:     meeting.Location,
		MeetingType:  meeting.MeetingType,
		StartTime:    formatTime(meeting.Start),
		EndTime:      formatTime(meeting.End),
		Status:       string(meeting.Status),
		Participants: participants,
		CreatedAt:    formatTime(meeting.CreatedAt),
		UpdatedAt:    formatTime(meeting.UpdatedAt),
	}
}

func toMeetingDTOs(meetings []application.Meeting) []meetingDTO {
	out := make([]meetingDTO, 0, len(meetings))
	for _, meeting := range meetings {
		out = append(out, toMeetingDTO(meeting))
	}
	return out
}

type availableSlotsResponse struct {
	Date           string          `json:"date"`
	AvailableSlots []slotDTO       `json:"availableSlots"`
	TotalSlots     int             `json:"totalSlots"`
	Duration       int             `json:"duration"`
	WorkingHours   workingHoursDTO `json:"workingHours"`
}

type slotDTO struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Duration  int    `json:"duration"`
}

func toAvailableSlotsResponse(result application.AvailableSlotsResult) availableSlotsResponse {
	slots := make([]slotDTO, 0, len(result.Slots))
	for _, slot := range result.Slots {
		slots = append(slots, slotDTO{
			StartTime: formatTime(slot.Start),
			EndTime:   formatTime(slot.End),
			Duration:  int(slot.Duration() / time.Minute),
		})
	}
	return availableSlotsResponse{
		Date:           result.Date.UTC().Format(dateLayout),
		AvailableSlots: slots,
		TotalSlots:     len(slots),
		Duration:       int(result.Duration / time.Minute),
		WorkingHours:   workingHoursDTO{Start: result.WorkingHours.Start, End: result.WorkingHours.End},
	}
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
