// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
	"github.com/zapfy/broadcast-backend/internal/queue"
	"github.com/zapfy/broadcast-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ListRepo     repository.ListRepositoryInterface
	InstanceRepo repository.InstanceRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Queue        queue.Queue

	// Stagger is the per-job scheduling delay applied to bulk
	// submissions so campaign creation never bursts the provider.
	Stagger time.Duration
}

type CreateCampaignInput struct {
	Name           string                `json:"name"`
	TemplateID     string                `json:"templateId"`
	TemplateParams *model.TemplateParams `json:"templateParams,omitempty"`
}

type CreateCampaignResult struct {
	CampaignID    string `json:"id"`
	TotalContacts int    `json:"totalContacts"`
	EnqueuedCount int    `json:"enqueuedCount"`
	Status        string `json:"status"`
}

// CreateCampaign materializes a campaign: it validates the list against
// the mapping's member-sourced keys, creates the campaign row with its
// fixed totalContacts, resolves parameters once per member, and submits
// every job in one staggered bulk enqueue. Validation is all-or-nothing
// at the list level; no job exists until every recipient passed.
func (s *CampaignService) CreateCampaign(ctx context.Context, organizationID, listID string, in CreateCampaignInput) (*CreateCampaignResult, error) {
	if len(in.Name) < 3 {
		return nil, appErrors.NewValidation("campaign name must have at least 3 characters")
	}

	instance, err := s.InstanceRepo.FindByOrganization(organizationID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, appErrors.NewValidation("no instance available for organization")
	}

	list, err := s.ListRepo.GetByID(listID, instance.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, appErrors.NewListNotFound(listID)
	}

	template, err := s.TemplateRepo.GetByID(in.TemplateID, instance.ID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, appErrors.NewTemplateNotFound(in.TemplateID)
	}

	members, err := s.ListRepo.ListMembers(listID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, appErrors.NewValidation("broadcast list has no members")
	}

	if err := validateMemberKeys(in.TemplateParams, list, members); err != nil {
		return nil, err
	}

	campaign := &model.Campaign{
		Name:             in.Name,
		BroadcastListID:  listID,
		InstanceID:       instance.ID,
		TemplateID:       template.ID,
		TemplateName:     template.Name,
		TemplateLanguage: template.Language,
		TemplateParams:   in.TemplateParams,
		TotalContacts:    len(members),
		Status:           model.CampaignProcessing,
	}
	if err := s.CampaignRepo.Create(campaign); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(members))
	for _, member := range members {
		bodyValues, buttonValues := ResolveTemplateParams(in.TemplateParams, member.AdditionalParams)
		jobs = append(jobs, &queue.Job{
			CampaignID:       campaign.ID,
			MemberID:         member.ID,
			ContactID:        member.ContactID,
			ContactWaID:      member.ContactWaID,
			InstanceID:       instance.ID,
			TemplateID:       template.ID,
			TemplateName:     template.Name,
			TemplateLanguage: template.Language,
			BodyValues:       bodyValues,
			ButtonValues:     buttonValues,
		})
	}

	enqueued, err := s.Queue.EnqueueBulk(ctx, jobs, s.Stagger)
	if err != nil {
		// The campaign row exists but nothing is in flight; cancel it
		// so its counters cannot be mistaken for a stalled broadcast.
		if cancelErr := s.CampaignRepo.UpdateStatus(campaign.ID, model.CampaignCancelled); cancelErr != nil {
			log.Error().Err(cancelErr).Str("campaign_id", campaign.ID).Msg("failed to cancel campaign after enqueue error")
		}
		return nil, fmt.Errorf("enqueue campaign jobs: %w", err)
	}

	log.Info().
		Str("campaign_id", campaign.ID).
		Int("enqueued", enqueued).
		Int("total_contacts", campaign.TotalContacts).
		Msg("campaign materialized")

	return &CreateCampaignResult{
		CampaignID:    campaign.ID,
		TotalContacts: campaign.TotalContacts,
		EnqueuedCount: enqueued,
		Status:        campaign.Status,
	}, nil
}

// validateMemberKeys enforces the two list-level checks. A list that
// declares no additional-param keys skips validation entirely: member
// slots simply resolve to the empty string for whatever is absent.
func validateMemberKeys(params *model.TemplateParams, list *model.BroadcastList, members []*model.ListMember) error {
	referenced := params.MemberKeys()
	if len(referenced) == 0 || len(list.AdditionalParams) == 0 {
		return nil
	}

	declared := make(map[string]bool, len(list.AdditionalParams))
	for _, k := range list.AdditionalParams {
		declared[k] = true
	}

	var invalidKeys []string
	seen := make(map[string]bool)
	for _, k := range referenced {
		if !declared[k] && !seen[k] {
			invalidKeys = append(invalidKeys, k)
			seen[k] = true
		}
	}
	if len(invalidKeys) > 0 {
		return &appErrors.ValidationError{
			Message:     "template params reference keys not declared on the list",
			InvalidKeys: invalidKeys,
		}
	}

	var issues []appErrors.MemberIssue
	for _, member := range members {
		var missing []string
		reported := make(map[string]bool)
		for _, k := range referenced {
			if reported[k] {
				continue
			}
			if _, ok := member.AdditionalParams[k]; !ok {
				missing = append(missing, k)
				reported[k] = true
			}
		}
		if len(missing) > 0 {
			issues = append(issues, appErrors.MemberIssue{
				MemberID:    member.ID,
				ContactWaID: member.ContactWaID,
				MissingKeys: missing,
			})
		}
	}
	if len(issues) > 0 {
		return &appErrors.ValidationError{
			Message:        "members are missing required params",
			InvalidMembers: issues,
		}
	}
	return nil
}

// ListCampaigns pages through a list's campaigns, optionally filtered
// by partial name match and status.
func (s *CampaignService) ListCampaigns(organizationID, listID string, page, pageSize int, filter, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	if _, err := s.requireList(organizationID, listID); err != nil {
		return nil, nil, err
	}

	offset := (page - 1) * pageSize
	campaigns, total, err := s.CampaignRepo.ListByList(listID, offset, pageSize, filter, status)
	if err != nil {
		return nil, nil, err
	}

	meta := map[string]int{
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": (total + pageSize - 1) / pageSize,
	}
	return campaigns, meta, nil
}

func (s *CampaignService) GetCampaign(organizationID, listID, campaignID string) (*model.Campaign, error) {
	if _, err := s.requireList(organizationID, listID); err != nil {
		return nil, err
	}
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.BroadcastListID != listID {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	return campaign, nil
}

// CancelCampaign sets the poison flag. Workers check campaign status
// before each attempt, so pending jobs drain without sending; messages
// already handed to the provider are unaffected.
func (s *CampaignService) CancelCampaign(organizationID, listID, campaignID string) error {
	campaign, err := s.GetCampaign(organizationID, listID, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignProcessing {
		return appErrors.NewValidation(fmt.Sprintf("campaign cannot be cancelled in status %s", campaign.Status))
	}
	return s.CampaignRepo.UpdateStatus(campaignID, model.CampaignCancelled)
}

func (s *CampaignService) requireList(organizationID, listID string) (*model.BroadcastList, error) {
	instance, err := s.InstanceRepo.FindByOrganization(organizationID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, appErrors.NewValidation("no instance available for organization")
	}
	list, err := s.ListRepo.GetByID(listID, instance.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, appErrors.NewListNotFound(listID)
	}
	return list, nil
}
