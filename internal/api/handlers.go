package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/content"
	"github.com/crmkit/pacer/internal/metrics"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/segment"
	"github.com/crmkit/pacer/internal/store"
)

// Version is the service version reported by /health
const Version = "0.3.0"

// PlanResponse is the response for POST /rate-limit/plan
type PlanResponse struct {
	planner.Calculation
	Fingerprint     string `json:"fingerprint"`
	RegistryVersion string `json:"registry_version"`
}

// ValidateContentRequest is the request body for POST /content/validate
type ValidateContentRequest struct {
	Content      string              `json:"content"`
	ChannelType  string              `json:"channel_type"`
	MessageType  content.MessageType `json:"message_type"`
	ServerResult *content.Result     `json:"server_result,omitempty"`
}

// SegmentPreviewRequest is the request body for POST /segments/preview
type SegmentPreviewRequest struct {
	Criteria segment.Criteria  `json:"criteria"`
	Contacts []segment.Contact `json:"contacts"`
	Limit    int               `json:"limit,omitempty"`
}

// SegmentPreviewResponse is the response for POST /segments/preview
type SegmentPreviewResponse struct {
	Audience segment.Audience  `json:"audience"`
	Contacts []segment.Contact `json:"contacts"`
	HasMore  bool              `json:"has_more"`
}

// ScheduleEstimateRequest is the request body for POST /schedule/estimate
type ScheduleEstimateRequest struct {
	Audience segment.Audience         `json:"audience"`
	Plan     planner.Calculation      `json:"plan"`
	AntiBan  schedule.AntiBanSettings `json:"anti_ban"`
	StartAt  *time.Time               `json:"start_at,omitempty"`
}

// ChannelsResponse is the response for GET /channels
type ChannelsResponse struct {
	Version  string           `json:"version"`
	Channels []channelProfile `json:"channels"`
}

type channelProfile struct {
	Type                 string `json:"type"`
	MaxMessagesPerMinute int    `json:"max_messages_per_minute"`
	MaxMessagesPerHour   int    `json:"max_messages_per_hour"`
	MaxMessagesPerDay    int    `json:"max_messages_per_day"`
	DefaultDelayMs       int    `json:"default_delay_ms"`
	MaxMessageLength     int    `json:"max_message_length"`
	BanRisk              string `json:"ban_risk"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Uptime  string          `json:"uptime"`
	Jobs    *store.JobStats `json:"jobs,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handlePlan handles POST /api/v1/rate-limit/plan
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ChannelType == "" {
		s.sendError(w, http.StatusBadRequest, "channel_type is required")
		return
	}

	calc := s.planner.Plan(req)
	s.trackPlan(string(req.ChannelType), len(calc.Warnings))

	s.sendJSON(w, http.StatusOK, PlanResponse{
		Calculation:     calc,
		Fingerprint:     req.Fingerprint(),
		RegistryVersion: s.registry.Version(),
	})
}

// handleValidateContent handles POST /api/v1/content/validate
func (s *Server) handleValidateContent(w http.ResponseWriter, r *http.Request) {
	var req ValidateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ChannelType == "" {
		s.sendError(w, http.StatusBadRequest, "channel_type is required")
		return
	}
	if req.MessageType == "" {
		req.MessageType = content.MessageTypeText
	}

	result := s.scorer.Score(req.Content, channel.Type(req.ChannelType), req.MessageType)

	// A provider-side result merges conservatively: the lower score
	// wins, issue and warning lists union.
	if req.ServerResult != nil {
		result = content.Merge(result, *req.ServerResult)
	}

	s.trackContent(req.ChannelType, result.Score)
	s.sendJSON(w, http.StatusOK, result)
}

// handleSegmentPreview handles POST /api/v1/segments/preview
func (s *Server) handleSegmentPreview(w http.ResponseWriter, r *http.Request) {
	var req SegmentPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	audience, sample, hasMore := segment.Preview(req.Criteria, req.Contacts, req.Limit)
	s.trackSegment()

	s.sendJSON(w, http.StatusOK, SegmentPreviewResponse{
		Audience: audience,
		Contacts: sample,
		HasMore:  hasMore,
	})
}

// handleScheduleEstimate handles POST /api/v1/schedule/estimate
func (s *Server) handleScheduleEstimate(w http.ResponseWriter, r *http.Request) {
	var req ScheduleEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var est schedule.Estimate
	if req.StartAt != nil {
		est = s.estimator.EstimateFrom(*req.StartAt, req.Audience, req.Plan, req.AntiBan)
	} else {
		est = s.estimator.Estimate(req.Audience, req.Plan, req.AntiBan)
	}
	s.trackSchedule()

	s.sendJSON(w, http.StatusOK, est)
}

// handleChannels handles GET /api/v1/channels
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	profiles := s.registry.List()
	out := make([]channelProfile, len(profiles))
	for i, p := range profiles {
		out[i] = channelProfile{
			Type:                 string(p.Type),
			MaxMessagesPerMinute: p.MaxMessagesPerMinute,
			MaxMessagesPerHour:   p.MaxMessagesPerHour,
			MaxMessagesPerDay:    p.MaxMessagesPerDay,
			DefaultDelayMs:       p.DefaultDelayMs,
			MaxMessageLength:     p.MaxMessageLength,
			BanRisk:              string(p.BanRisk),
		}
	}

	s.sendJSON(w, http.StatusOK, ChannelsResponse{
		Version:  s.registry.Version(),
		Channels: out,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.store.Stats(r.Context())

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
		Jobs:    stats,
	})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// Metric tracking goes through the collector when one is wired so the
// counters survive restarts; otherwise through the process-local
// globals.

func (s *Server) trackPlan(channel string, warnings int) {
	if s.collector != nil {
		s.collector.TrackPlanComputed(channel, warnings)
		return
	}
	metrics.ObservePlan(channel, warnings)
}

func (s *Server) trackContent(channel string, score int) {
	if s.collector != nil {
		s.collector.TrackContentValidation(channel, score)
		return
	}
	metrics.ObserveContentScore(channel, score)
}

func (s *Server) trackSegment() {
	if s.collector != nil {
		s.collector.TrackSegmentResolved()
		return
	}
	metrics.IncSegmentsResolved()
}

func (s *Server) trackSchedule() {
	if s.collector != nil {
		s.collector.TrackScheduleEstimated()
		return
	}
	metrics.IncSchedulesEstimated()
}
