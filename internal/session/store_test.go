package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/backend/backendtest"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

func TestInitLoadsExistingSession(t *testing.T) {
	fake := backendtest.New()
	user := fake.AddUser("seller@example.com")
	fake.SignInAs(user)

	store := NewStore(fake)
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	assert.True(t, store.Ready())
	assert.True(t, store.Authenticated())
	assert.Equal(t, user.ID.String(), store.UserID())
}

func TestInitWithoutSession(t *testing.T) {
	store := NewStore(backendtest.New())
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	assert.True(t, store.Ready())
	assert.False(t, store.Authenticated())
	assert.Empty(t, store.UserID())
}

func TestSubscribersFollowAuthEvents(t *testing.T) {
	fake := backendtest.New()
	user := fake.AddUser("buyer@example.com")

	store := NewStore(fake)
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	var seen []*models.Session
	sub := store.Subscribe(func(s *models.Session) { seen = append(seen, s) })

	_, err := fake.SignIn(context.Background(), "buyer@example.com", "secret1")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.NotNil(t, seen[0])
	assert.Equal(t, user.ID, seen[0].User.ID)

	require.NoError(t, store.SignOut(context.Background()))
	require.Len(t, seen, 2)
	assert.Nil(t, seen[1])
	assert.False(t, store.Authenticated())

	sub.Unsubscribe()
	_, err = fake.SignIn(context.Background(), "buyer@example.com", "secret1")
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.True(t, store.Authenticated())
}

func TestCloseReleasesAuthListener(t *testing.T) {
	fake := backendtest.New()
	store := NewStore(fake)
	require.NoError(t, store.Init(context.Background()))
	assert.Equal(t, 1, fake.Listeners())

	store.Close()
	store.Close()
	assert.Equal(t, 0, fake.Listeners())

	fake.SetSession(backend.EventSignedIn, &models.Session{AccessToken: "t"})
	assert.False(t, store.Authenticated())
}

type failingClient struct {
	*backendtest.Fake
}

func (failingClient) Session(context.Context) (*models.Session, error) {
	return nil, errors.New("backend unavailable")
}

func TestInitErrorLeavesAnonymous(t *testing.T) {
	store := NewStore(failingClient{backendtest.New()})
	defer store.Close()

	assert.Error(t, store.Init(context.Background()))
	assert.True(t, store.Ready())
	assert.False(t, store.Authenticated())
}
