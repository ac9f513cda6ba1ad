package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/content"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/schedule"
	"github.com/crmkit/pacer/internal/segment"
	"github.com/crmkit/pacer/internal/store"
)

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Name        string                   `json:"name"`
	ChannelType string                   `json:"channel_type"`
	MessageType content.MessageType      `json:"message_type,omitempty"`
	Content     string                   `json:"content"`
	Recipients  []store.Recipient        `json:"recipients"`
	AccountIDs  []string                 `json:"account_ids"`
	Priority    planner.Priority         `json:"priority,omitempty"`
	AntiBan     schedule.AntiBanSettings `json:"anti_ban,omitempty"`
}

// CampaignResponse is the job view returned by the campaign endpoints
type CampaignResponse struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Channel     string                   `json:"channel"`
	Status      string                   `json:"status"`
	Recipients  int                      `json:"recipients"`
	SentCount   int                      `json:"sent_count"`
	FailedCount int                      `json:"failed_count"`
	LastError   string                   `json:"last_error,omitempty"`
	Plan        planner.Calculation      `json:"plan"`
	Content     content.Result           `json:"content_result"`
	Schedule    schedule.Estimate        `json:"schedule"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Stats     *store.JobStats    `json:"stats"`
	Campaigns []*CampaignSummary `json:"campaigns,omitempty"`
}

// CampaignSummary is a compact job view for listings
type CampaignSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Channel    string    `json:"channel"`
	Status     string    `json:"status"`
	Recipients int       `json:"recipients"`
	SentCount  int       `json:"sent_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// handleCreateCampaign handles POST /api/v1/campaigns. The plan is
// computed server-side so the stored fingerprint always matches the
// inputs the job carries.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ChannelType == "" {
		s.sendError(w, http.StatusBadRequest, "channel_type is required")
		return
	}
	if len(req.Recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "recipients is required")
		return
	}
	if req.MessageType == "" {
		req.MessageType = content.MessageTypeText
	}

	chType := channel.Type(req.ChannelType)

	result := s.scorer.Score(req.Content, chType, req.MessageType)
	if !result.IsValid {
		s.sendError(w, http.StatusUnprocessableEntity, "content rejected: "+result.Issues[0])
		return
	}

	planReq := planner.Request{
		ChannelType:    chType,
		RecipientCount: len(req.Recipients),
		AccountCount:   len(req.AccountIDs),
		Priority:       req.Priority,
	}
	calc := s.planner.Plan(planReq)
	s.trackPlan(req.ChannelType, len(calc.Warnings))

	now := time.Now()
	job := &store.Job{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Channel:     chType,
		MessageType: req.MessageType,
		Content:     req.Content,
		Recipients:  req.Recipients,
		AccountIDs:  req.AccountIDs,
		Plan:        calc,
		AntiBan:     req.AntiBan,
		Fingerprint: planReq.Fingerprint(),
		Status:      store.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Enqueue(r.Context(), job); err != nil {
		s.logger.Error("failed to enqueue campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to queue campaign")
		return
	}

	s.logger.Info("campaign queued",
		"id", job.ID,
		"channel", job.Channel,
		"recipients", len(job.Recipients),
		"rate", calc.RecommendedMessagesPerMinute,
	)

	s.sendJSON(w, http.StatusCreated, s.campaignView(job, result))
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get job stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get job stats")
		return
	}

	filter := store.ListFilter{Limit: 100}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = store.JobStatus(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	jobs, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	summaries := make([]*CampaignSummary, len(jobs))
	for i, job := range jobs {
		summaries[i] = &CampaignSummary{
			ID:         job.ID,
			Name:       job.Name,
			Channel:    string(job.Channel),
			Status:     string(job.Status),
			Recipients: len(job.Recipients),
			SentCount:  job.SentCount,
			CreatedAt:  job.CreatedAt,
		}
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{
		Stats:     stats,
		Campaigns: summaries,
	})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupCampaign(w, r)
	if !ok {
		return
	}

	result := s.scorer.Score(job.Content, job.Channel, job.MessageType)
	s.sendJSON(w, http.StatusOK, s.campaignView(job, result))
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupCampaign(w, r)
	if !ok {
		return
	}

	if job.Status != store.StatusPending && job.Status != store.StatusRunning {
		s.sendError(w, http.StatusConflict, "only pending or running campaigns can be paused")
		return
	}

	job.Status = store.StatusPaused
	job.UpdatedAt = time.Now()
	if err := s.store.Update(r.Context(), job); err != nil {
		s.logger.Error("failed to pause campaign", "id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to pause campaign")
		return
	}

	s.logger.Info("campaign paused", "id", job.ID, "sent", job.SentCount)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": string(job.Status)})
}

// handleResumeCampaign handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupCampaign(w, r)
	if !ok {
		return
	}

	if job.Status != store.StatusPaused {
		s.sendError(w, http.StatusConflict, "only paused campaigns can be resumed")
		return
	}

	// Back to pending; the dispatcher picks it up and continues from
	// the recorded progress
	job.Status = store.StatusPending
	job.UpdatedAt = time.Now()
	if err := s.store.Update(r.Context(), job); err != nil {
		s.logger.Error("failed to resume campaign", "id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to resume campaign")
		return
	}

	s.logger.Info("campaign resumed", "id", job.ID, "remaining", len(job.Remaining()))
	s.sendJSON(w, http.StatusOK, map[string]string{"status": string(job.Status)})
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}. Running
// campaigns are cancelled in place so the dispatcher stops cleanly;
// anything else is removed.
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupCampaign(w, r)
	if !ok {
		return
	}

	if job.Status == store.StatusRunning {
		job.Status = store.StatusCancelled
		job.UpdatedAt = time.Now()
		if err := s.store.Update(r.Context(), job); err != nil {
			s.logger.Error("failed to cancel campaign", "id", job.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to cancel campaign")
			return
		}
		s.logger.Info("campaign cancelled", "id", job.ID, "sent", job.SentCount)
		s.sendJSON(w, http.StatusOK, map[string]string{"status": string(store.StatusCancelled)})
		return
	}

	if err := s.store.Delete(r.Context(), job.ID); err != nil {
		s.logger.Error("failed to delete campaign", "id", job.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}

	s.logger.Info("campaign deleted", "id", job.ID)
	w.WriteHeader(http.StatusNoContent)
}

// lookupCampaign resolves the {id} URL parameter to a stored job,
// writing the error response itself when it cannot.
func (s *Server) lookupCampaign(w http.ResponseWriter, r *http.Request) (*store.Job, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return nil, false
	}

	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil, false
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil, false
	}

	return job, true
}

func segmentAudience(effective int) segment.Audience {
	return segment.Audience{EffectiveCount: effective}
}

// campaignView assembles the full job view including a fresh schedule
// estimate for the remaining recipients.
func (s *Server) campaignView(job *store.Job, result content.Result) CampaignResponse {
	remaining := len(job.Remaining())
	est := s.estimator.Estimate(
		segmentAudience(remaining),
		job.Plan,
		job.AntiBan,
	)

	return CampaignResponse{
		ID:          job.ID,
		Name:        job.Name,
		Channel:     string(job.Channel),
		Status:      string(job.Status),
		Recipients:  len(job.Recipients),
		SentCount:   job.SentCount,
		FailedCount: job.FailedCount,
		LastError:   job.LastError,
		Plan:        job.Plan,
		Content:     result,
		Schedule:    est,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
