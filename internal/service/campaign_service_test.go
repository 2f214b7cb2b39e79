// internal/service/campaign_service_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
	"github.com/zapfy/broadcast-backend/internal/queue"
)

// Mock repositories

type mockInstanceRepo struct {
	instance *model.Instance
}

func (m *mockInstanceRepo) GetByID(id string) (*model.Instance, error) { return m.instance, nil }
func (m *mockInstanceRepo) FindByOrganization(organizationID string) (*model.Instance, error) {
	return m.instance, nil
}

type mockTemplateRepo struct {
	template *model.Template
}

func (m *mockTemplateRepo) GetByID(templateID, instanceID string) (*model.Template, error) {
	return m.template, nil
}

type mockListRepo struct {
	list    *model.BroadcastList
	members []*model.ListMember
}

func (m *mockListRepo) GetByID(listID, instanceID string) (*model.BroadcastList, error) {
	return m.list, nil
}
func (m *mockListRepo) ListMembers(listID string) ([]*model.ListMember, error) {
	return m.members, nil
}

type mockCampaignRepo struct {
	created    *model.Campaign
	statusByID map[string]string
	listed     []*model.Campaign
	listTotal  int

	gotOffset, gotLimit   int
	gotFilter, gotStatus  string
	sent, failed, read    int
	completedIfDoneCalled int
}

func (m *mockCampaignRepo) Create(c *model.Campaign) error {
	c.ID = "camp-1"
	m.created = c
	return nil
}
func (m *mockCampaignRepo) GetByID(id string) (*model.Campaign, error) {
	if m.created != nil && m.created.ID == id {
		return m.created, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}
func (m *mockCampaignRepo) GetStatus(id string) (string, error) {
	if s, ok := m.statusByID[id]; ok {
		return s, nil
	}
	return "", appErrors.NewCampaignNotFound(id)
}
func (m *mockCampaignRepo) ListByList(listID string, offset, limit int, filter, status string) ([]*model.Campaign, int, error) {
	m.gotOffset, m.gotLimit = offset, limit
	m.gotFilter, m.gotStatus = filter, status
	return m.listed, m.listTotal, nil
}
func (m *mockCampaignRepo) UpdateStatus(id, status string) error {
	if m.statusByID == nil {
		m.statusByID = map[string]string{}
	}
	m.statusByID[id] = status
	if m.created != nil && m.created.ID == id {
		m.created.Status = status
	}
	return nil
}
func (m *mockCampaignRepo) IncrementSent(id string) error   { m.sent++; return nil }
func (m *mockCampaignRepo) IncrementFailed(id string) error { m.failed++; return nil }
func (m *mockCampaignRepo) IncrementRead(id string) error   { m.read++; return nil }
func (m *mockCampaignRepo) MarkCompletedIfDone(id string) (bool, error) {
	m.completedIfDoneCalled++
	return false, nil
}

func testMembers() []*model.ListMember {
	return []*model.ListMember{
		{ID: "m-1", ContactID: "c-1", ContactWaID: "5511999990001", AdditionalParams: map[string]any{"city": "Lisbon"}},
		{ID: "m-2", ContactID: "c-2", ContactWaID: "5511999990002", AdditionalParams: map[string]any{"city": "Porto"}},
		{ID: "m-3", ContactID: "c-3", ContactWaID: "5511999990003", AdditionalParams: map[string]any{"city": "Faro"}},
	}
}

func newTestService(q queue.Queue, repo *mockCampaignRepo, list *model.BroadcastList, members []*model.ListMember) *CampaignService {
	return &CampaignService{
		CampaignRepo: repo,
		ListRepo:     &mockListRepo{list: list, members: members},
		InstanceRepo: &mockInstanceRepo{instance: &model.Instance{ID: "inst-1", OrganizationID: "org-1"}},
		TemplateRepo: &mockTemplateRepo{template: &model.Template{ID: "tpl-1", Name: "order_update", Language: "en_US"}},
		Queue:        q,
		Stagger:      100 * time.Millisecond,
	}
}

func TestCreateCampaignMaterializesEveryMember(t *testing.T) {
	q := queue.NewMemoryQueue()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return base }

	repo := &mockCampaignRepo{}
	list := &model.BroadcastList{ID: "list-1", InstanceID: "inst-1", AdditionalParams: []string{"city"}}
	svc := newTestService(q, repo, list, testMembers())

	res, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "spring promo",
		TemplateID: "tpl-1",
		TemplateParams: &model.TemplateParams{
			BodyParams: []model.ParamMapping{
				{Source: model.SourceFixed, Value: "Hello"},
				{Source: model.SourceMember, Key: "city"},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalContacts)
	assert.Equal(t, 3, res.EnqueuedCount)
	assert.Equal(t, model.CampaignProcessing, res.Status)
	assert.Equal(t, 3, q.Len())
	require.NotNil(t, repo.created)
	assert.Equal(t, 3, repo.created.TotalContacts)
}

func TestCreateCampaignStaggersSchedule(t *testing.T) {
	q := queue.NewMemoryQueue()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return base }

	repo := &mockCampaignRepo{}
	list := &model.BroadcastList{ID: "list-1", InstanceID: "inst-1"}
	svc := newTestService(q, repo, list, testMembers())

	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "stagger check",
		TemplateID: "tpl-1",
	})
	require.NoError(t, err)

	// Nothing is due at t0 except the first job; the rest are spread
	// 100ms apart.
	jobs, err := q.Claim(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	q.Now = func() time.Time { return base.Add(250 * time.Millisecond) }
	jobs, err = q.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestCreateCampaignRejectsShortName(t *testing.T) {
	q := queue.NewMemoryQueue()
	repo := &mockCampaignRepo{}
	svc := newTestService(q, repo, &model.BroadcastList{ID: "list-1"}, testMembers())

	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{Name: "ab"})
	ve, ok := appErrors.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, ve.Message, "at least 3 characters")
	assert.Nil(t, repo.created)
	assert.Zero(t, q.Len())
}

func TestCreateCampaignRejectsUndeclaredKeys(t *testing.T) {
	q := queue.NewMemoryQueue()
	repo := &mockCampaignRepo{}
	list := &model.BroadcastList{ID: "list-1", AdditionalParams: []string{"city"}}
	svc := newTestService(q, repo, list, testMembers())

	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "bad mapping",
		TemplateID: "tpl-1",
		TemplateParams: &model.TemplateParams{
			BodyParams: []model.ParamMapping{{Source: model.SourceMember, Key: "tier"}},
		},
	})
	ve, ok := appErrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, []string{"tier"}, ve.InvalidKeys)
	assert.Zero(t, q.Len())
}

func TestCreateCampaignRejectsMembersMissingDeclaredKeys(t *testing.T) {
	q := queue.NewMemoryQueue()
	repo := &mockCampaignRepo{}
	list := &model.BroadcastList{ID: "list-1", AdditionalParams: []string{"city"}}
	members := testMembers()
	members[1].AdditionalParams = map[string]any{} // Porto lost its city

	svc := newTestService(q, repo, list, members)
	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "strict list",
		TemplateID: "tpl-1",
		TemplateParams: &model.TemplateParams{
			BodyParams: []model.ParamMapping{{Source: model.SourceMember, Key: "city"}},
		},
	})
	ve, ok := appErrors.AsValidation(err)
	require.True(t, ok)
	require.Len(t, ve.InvalidMembers, 1)
	assert.Equal(t, "m-2", ve.InvalidMembers[0].MemberID)
	assert.Equal(t, []string{"city"}, ve.InvalidMembers[0].MissingKeys)

	// All-or-nothing: no jobs for the valid members either.
	assert.Zero(t, q.Len())
}

func TestCreateCampaignSkipsValidationWhenListDeclaresNothing(t *testing.T) {
	q := queue.NewMemoryQueue()
	repo := &mockCampaignRepo{}
	list := &model.BroadcastList{ID: "list-1"} // no declared keys
	members := testMembers()
	members[2].AdditionalParams = nil

	svc := newTestService(q, repo, list, members)
	res, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "lenient list",
		TemplateID: "tpl-1",
		TemplateParams: &model.TemplateParams{
			BodyParams: []model.ParamMapping{{Source: model.SourceMember, Key: "city"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.EnqueuedCount)
}

func TestCreateCampaignRejectsEmptyList(t *testing.T) {
	q := queue.NewMemoryQueue()
	repo := &mockCampaignRepo{}
	svc := newTestService(q, repo, &model.BroadcastList{ID: "list-1"}, nil)

	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "empty list",
		TemplateID: "tpl-1",
	})
	_, ok := appErrors.AsValidation(err)
	assert.True(t, ok)
}

type failingQueue struct{}

func (failingQueue) EnqueueBulk(context.Context, []*queue.Job, time.Duration) (int, error) {
	return 0, errors.New("connection reset")
}
func (failingQueue) Claim(context.Context, int) ([]*queue.Job, error) { return nil, nil }
func (failingQueue) Ack(context.Context, string) error                { return nil }
func (failingQueue) Retry(context.Context, string, time.Duration) error {
	return nil
}
func (failingQueue) DeadLetter(context.Context, string) error { return nil }

func TestCreateCampaignCancelsOnEnqueueFailure(t *testing.T) {
	repo := &mockCampaignRepo{}
	svc := newTestService(failingQueue{}, repo, &model.BroadcastList{ID: "list-1"}, testMembers())

	_, err := svc.CreateCampaign(context.Background(), "org-1", "list-1", CreateCampaignInput{
		Name:       "doomed campaign",
		TemplateID: "tpl-1",
	})
	require.Error(t, err)
	require.NotNil(t, repo.created)
	assert.Equal(t, model.CampaignCancelled, repo.statusByID[repo.created.ID])
}

func TestListCampaignsClampsPagination(t *testing.T) {
	repo := &mockCampaignRepo{listTotal: 42}
	svc := newTestService(queue.NewMemoryQueue(), repo, &model.BroadcastList{ID: "list-1"}, testMembers())

	_, meta, err := svc.ListCampaigns("org-1", "list-1", 0, 500, "promo", model.CampaignProcessing)
	require.NoError(t, err)

	assert.Equal(t, 0, repo.gotOffset)
	assert.Equal(t, 100, repo.gotLimit)
	assert.Equal(t, "promo", repo.gotFilter)
	assert.Equal(t, model.CampaignProcessing, repo.gotStatus)
	assert.Equal(t, 42, meta["total"])
	assert.Equal(t, 1, meta["page"])
	assert.Equal(t, 100, meta["pageSize"])
	assert.Equal(t, 1, meta["totalPages"])
}

func TestGetCampaignEnforcesListOwnership(t *testing.T) {
	repo := &mockCampaignRepo{
		created: &model.Campaign{ID: "camp-1", BroadcastListID: "other-list"},
	}
	svc := newTestService(queue.NewMemoryQueue(), repo, &model.BroadcastList{ID: "list-1"}, testMembers())

	_, err := svc.GetCampaign("org-1", "list-1", "camp-1")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestCancelCampaignOnlyFromProcessing(t *testing.T) {
	repo := &mockCampaignRepo{
		created: &model.Campaign{ID: "camp-1", BroadcastListID: "list-1", Status: model.CampaignProcessing},
	}
	svc := newTestService(queue.NewMemoryQueue(), repo, &model.BroadcastList{ID: "list-1"}, testMembers())

	require.NoError(t, svc.CancelCampaign("org-1", "list-1", "camp-1"))
	assert.Equal(t, model.CampaignCancelled, repo.statusByID["camp-1"])

	// A second cancel is rejected because the campaign left PROCESSING.
	err := svc.CancelCampaign("org-1", "list-1", "camp-1")
	_, ok := appErrors.AsValidation(err)
	assert.True(t, ok)
}
