package access

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todoless/domain"
)

func randomItem(r *rand.Rand, labelIDs []string) domain.Visibility {
	item := domain.Visibility{
		OwnerID: fmt.Sprintf("u%d", r.Intn(4)),
		Shared:  r.Intn(2) == 0,
	}
	for _, id := range labelIDs {
		if r.Intn(2) == 0 {
			item.LabelIDs = append(item.LabelIDs, id)
		}
	}
	if r.Intn(4) == 0 {
		item.LabelIDs = append(item.LabelIDs, "deleted-label")
	}
	return item
}

func randomLabels(r *rand.Rand) (Labels, []string) {
	labels := Labels{}
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("l%d", i)
		labels[id] = r.Intn(2) == 0
		ids = append(ids, id)
	}
	return labels, ids
}

func TestOwnerAlwaysHasAccess(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		labels, ids := randomLabels(r)
		item := randomItem(r, ids)
		require.True(t, IsAccessible(item, item.OwnerID, labels), "item %+v", item)
	}
}

func TestPrivateItemHiddenFromOthers(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		labels, ids := randomLabels(r)
		item := randomItem(r, ids)
		item.Shared = false
		require.False(t, IsAccessible(item, "stranger", labels), "item %+v", item)
	}
}

func TestAnyPrivateLabelVetoes(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		labels, ids := randomLabels(r)
		item := randomItem(r, ids)
		item.Shared = true

		vetoed := false
		for _, id := range item.LabelIDs {
			if shared, ok := labels[id]; ok && !shared {
				vetoed = true
			}
		}
		require.Equal(t, !vetoed, IsAccessible(item, "stranger", labels), "item %+v labels %+v", item, labels)
	}
}

func TestSharedItemWithSharedOrMissingLabelsIsVisible(t *testing.T) {
	labels := Labels{"chores": true, "garden": true}
	item := domain.Visibility{OwnerID: "u1", Shared: true, LabelIDs: []string{"chores", "gone", "garden"}}

	assert.True(t, IsAccessible(item, "u2", labels))
	assert.True(t, IsAccessible(item, "u2", nil))
	assert.True(t, IsAccessible(domain.Visibility{OwnerID: "u1", Shared: true}, "u2", labels))
}

func TestPrivateLabelVetoIgnoresOtherSharedLabels(t *testing.T) {
	labels := Labels{"chores": true, "diary": false}
	item := domain.Visibility{OwnerID: "u1", Shared: true, LabelIDs: []string{"chores", "diary"}}

	assert.False(t, IsAccessible(item, "u2", labels))
	assert.True(t, IsAccessible(item, "u1", labels))
}

func TestCanMutateSharedFlagOwnerOnly(t *testing.T) {
	item := domain.Visibility{OwnerID: "u1", Shared: true}
	assert.True(t, CanMutateSharedFlag(item, "u1"))
	assert.False(t, CanMutateSharedFlag(item, "admin"))
}

func TestCanMutate(t *testing.T) {
	admin := domain.User{ID: "admin", Role: domain.RoleAdmin}
	kid := domain.User{ID: "kid", Role: domain.RoleRestricted}
	labels := Labels{"diary": false}

	shared := domain.Visibility{OwnerID: "parent", Shared: true}
	private := domain.Visibility{OwnerID: "parent", Shared: false}
	vetoed := domain.Visibility{OwnerID: "parent", Shared: true, LabelIDs: []string{"diary"}}

	tests := []struct {
		name     string
		user     domain.User
		item     domain.Visibility
		assignee string
		want     bool
	}{
		{name: "owner", user: domain.User{ID: "parent", Role: domain.RoleRestricted}, item: private, want: true},
		{name: "admin on shared", user: admin, item: shared, want: true},
		{name: "admin on private", user: admin, item: private, want: false},
		{name: "admin on vetoed", user: admin, item: vetoed, want: false},
		{name: "restricted on shared", user: kid, item: shared, want: false},
		{name: "restricted assignee", user: kid, item: private, assignee: "kid", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanMutate(tt.user, tt.item, tt.assignee, labels))
		})
	}
}

func TestCanDeleteIgnoresAssignment(t *testing.T) {
	kid := domain.User{ID: "kid", Role: domain.RoleRestricted}
	admin := domain.User{ID: "admin", Role: domain.RoleAdmin}
	item := domain.Visibility{OwnerID: "parent", Shared: true}

	assert.False(t, CanDelete(kid, item, nil))
	assert.True(t, CanDelete(admin, item, nil))
	assert.True(t, CanDelete(domain.User{ID: "parent"}, item, nil))
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require(true))
	require.ErrorIs(t, Require(false), domain.ErrAccessDenied)
}

func TestAudience(t *testing.T) {
	users := []string{"u1", "u2", "u3"}
	labels := Labels{"diary": false}

	shared := domain.Visibility{OwnerID: "u1", Shared: true}
	assert.ElementsMatch(t, users, Audience(shared, users, labels))

	private := domain.Visibility{OwnerID: "u1", Shared: false}
	assert.ElementsMatch(t, []string{"u1", "u3"}, Audience(private, users, labels, "u3", ""))

	vetoed := domain.Visibility{OwnerID: "u2", Shared: true, LabelIDs: []string{"diary"}}
	assert.Equal(t, []string{"u2"}, Audience(vetoed, users, labels))
}

func TestLost(t *testing.T) {
	assert.Equal(t, []string{"u2", "u3"}, Lost([]string{"u1", "u2", "u3"}, []string{"u1"}))
	assert.Empty(t, Lost([]string{"u1"}, []string{"u1", "u2"}))
}

func TestChoresScenario(t *testing.T) {
	chores := domain.Label{ID: "chores", OwnerID: "u1", Shared: true}
	task := domain.Task{ID: "t", OwnerID: "u1", Shared: true, LabelIDs: []string{"chores"}}

	labels := NewLabels([]domain.Label{chores})
	require.True(t, IsAccessible(task.Visibility(), "u2", labels))

	// The toggle cascades the label value onto the task.
	chores.Shared = false
	task.Shared = chores.Shared
	labels = NewLabels([]domain.Label{chores})

	assert.False(t, IsAccessible(task.Visibility(), "u2", labels))
	assert.True(t, IsAccessible(task.Visibility(), "u1", labels))
}
