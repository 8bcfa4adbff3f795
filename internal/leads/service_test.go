package leads_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workstream-hq/workstream/internal/leads"
	"github.com/workstream-hq/workstream/internal/shared"
	_ "github.com/workstream-hq/workstream/testing"
)

type stubRepo struct {
	nextID  int64
	byID    map[int64]*leads.Lead
	updates int
}

func newStubRepo() *stubRepo {
	return &stubRepo{byID: make(map[int64]*leads.Lead)}
}

func (s *stubRepo) Create(ctx context.Context, lead *leads.Lead) error {
	s.nextID++
	lead.ID = s.nextID
	cp := *lead
	s.byID[lead.ID] = &cp
	return nil
}

func (s *stubRepo) Update(ctx context.Context, lead *leads.Lead) error {
	if _, ok := s.byID[lead.ID]; !ok {
		return shared.ErrNotFound
	}
	cp := *lead
	s.byID[lead.ID] = &cp
	s.updates++
	return nil
}

func (s *stubRepo) FindByID(ctx context.Context, orgID, id int64) (*leads.Lead, error) {
	lead, ok := s.byID[id]
	if !ok || lead.OrgID != orgID {
		return nil, shared.ErrNotFound
	}
	cp := *lead
	return &cp, nil
}

func (s *stubRepo) List(ctx context.Context, orgID int64, filter leads.ListFilter) ([]leads.Lead, error) {
	var out []leads.Lead
	for _, lead := range s.byID {
		if lead.OrgID == orgID {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *stubRepo) BulkInsert(ctx context.Context, batch []leads.Lead) (int64, error) {
	for i := range batch {
		_ = s.Create(ctx, &batch[i])
	}
	return int64(len(batch)), nil
}

func TestCreateNormalisesInput(t *testing.T) {
	svc := leads.NewService(newStubRepo())

	lead, err := svc.Create(context.Background(), 3, leads.CreateInput{
		Name:  "  Ada Lovelace ",
		Email: " Ada@Example.COM ",
		Phone: " +1 555 0100 ",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", lead.Name)
	assert.Equal(t, "ada@example.com", lead.Email)
	assert.Equal(t, "+1 555 0100", lead.Phone)
	assert.Equal(t, leads.StatusNew, lead.Status)
	assert.NotZero(t, lead.ID)
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	repo := newStubRepo()
	svc := leads.NewService(repo)
	lead, err := svc.Create(context.Background(), 3, leads.CreateInput{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	status := leads.StatusQualified
	updated, err := svc.Update(context.Background(), 3, lead.ID, leads.UpdateInput{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, leads.StatusQualified, updated.Status)
	assert.Equal(t, "ada@example.com", updated.Email, "unset fields keep their value")
}

func TestUpdateScopedToOrg(t *testing.T) {
	repo := newStubRepo()
	svc := leads.NewService(repo)
	lead, err := svc.Create(context.Background(), 3, leads.CreateInput{Name: "Ada"})
	require.NoError(t, err)

	status := leads.StatusLost
	_, err = svc.Update(context.Background(), 99, lead.ID, leads.UpdateInput{Status: &status})
	assert.ErrorIs(t, err, shared.ErrNotFound, "another tenant must not see the lead")
}

func TestScorePersists(t *testing.T) {
	repo := newStubRepo()
	svc := leads.NewService(repo)
	lead, err := svc.Create(context.Background(), 3, leads.CreateInput{
		Name:   "Ada",
		Email:  "ada@acme.io",
		Phone:  "+1 555 0100",
		Source: "referral",
	})
	require.NoError(t, err)

	scored, err := svc.Score(context.Background(), 3, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, scored.Score)

	stored, err := svc.Get(context.Background(), 3, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, stored.Score)
}

func TestScoreLeadBounds(t *testing.T) {
	empty := &leads.Lead{}
	assert.Equal(t, 20, leads.ScoreLead(empty))

	full := &leads.Lead{
		Email:  "ceo@bigcorp.com",
		Phone:  "+1 555 0100",
		Source: "referral",
		Notes:  string(make([]byte, 100)),
	}
	assert.Equal(t, 100, leads.ScoreLead(full), "score is capped at 100")

	freeMail := &leads.Lead{Email: "someone@gmail.com"}
	assert.Equal(t, 40, leads.ScoreLead(freeMail))
}

func TestImportSkipsNamelessRows(t *testing.T) {
	repo := newStubRepo()
	svc := leads.NewService(repo)

	n, err := svc.Import(context.Background(), 3, []leads.CreateInput{
		{Name: "Ada"},
		{Name: "   "},
		{Name: "Grace", Email: "Grace@Example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := svc.List(context.Background(), 3, leads.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
