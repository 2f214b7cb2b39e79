// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
	"github.com/zapfy/broadcast-backend/internal/service"
)

// orgHeader carries the caller's organization, resolved by the auth
// layer in front of this service.
const orgHeader = "X-Organization-Id"

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Route("/lists/{listID}/campaigns", func(r chi.Router) {
		r.Post("/", c.CreateCampaign)
		r.Get("/", c.ListCampaigns)
		r.Get("/{campaignID}", c.GetCampaign)
		r.Post("/{campaignID}/cancel", c.CancelCampaign)
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	orgID := r.Header.Get(orgHeader)

	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := c.CampaignService.CreateCampaign(r.Context(), orgID, listID, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ok":            true,
		"id":            result.CampaignID,
		"enqueuedCount": result.EnqueuedCount,
		"totalContacts": result.TotalContacts,
		"message":       strconv.Itoa(result.EnqueuedCount) + " messages enqueued for dispatch",
	})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	orgID := r.Header.Get(orgHeader)

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("p.page"))
	pageSize, _ := strconv.Atoi(q.Get("p.pageSize"))
	filter := q.Get("f.filter")
	status := q.Get("f.status")

	campaigns, meta, err := c.CampaignService.ListCampaigns(orgID, listID, page, pageSize, filter, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	data := make([]map[string]interface{}, 0, len(campaigns))
	for _, campaign := range campaigns {
		data = append(data, campaignSummary(campaign))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"meta": meta,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	campaignID := chi.URLParam(r, "campaignID")
	orgID := r.Header.Get(orgHeader)

	campaign, err := c.CampaignService.GetCampaign(orgID, listID, campaignID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, campaignSummary(campaign))
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	campaignID := chi.URLParam(r, "campaignID")
	orgID := r.Header.Get(orgHeader)

	if err := c.CampaignService.CancelCampaign(orgID, listID, campaignID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"id":     campaignID,
		"status": model.CampaignCancelled,
	})
}

func campaignSummary(c *model.Campaign) map[string]interface{} {
	return map[string]interface{}{
		"id":     c.ID,
		"name":   c.Name,
		"status": c.Status,
		"template": map[string]string{
			"id":   c.TemplateID,
			"name": c.TemplateName,
		},
		"totalContacts": c.TotalContacts,
		"sentCount":     c.SentCount,
		"failedCount":   c.FailedCount,
		"readCount":     c.ReadCount,
		"createdAt":     c.CreatedAt,
		"updatedAt":     c.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	if ve, ok := appErrors.AsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":           ve.Message,
			"invalid_keys":    ve.InvalidKeys,
			"invalid_members": ve.InvalidMembers,
		})
		return
	}
	if appErrors.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
