package views

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/backend/backendtest"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

func TestItemDetailComposerVisibility(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	available := fake.AddItem(models.Item{Title: "Lamp", SellerID: seller.ID})
	sold := fake.AddItem(models.Item{Title: "Bike", SellerID: seller.ID, Status: models.ItemStatusSold})

	tests := []struct {
		name   string
		viewer string
		item   models.Item
		want   bool
	}{
		{name: "buyer, available item", viewer: "buyer@example.com", item: available, want: true},
		{name: "buyer, sold item", viewer: "buyer@example.com", item: sold, want: false},
		{name: "anonymous viewer", viewer: "", item: available, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, _ := newSessions(t, fake, tt.viewer)
			detail := NewItemDetail(fake, sessions)
			require.NoError(t, detail.Load(context.Background(), tt.item.ID.String()))
			assert.Equal(t, tt.want, detail.CanMessage())
			assert.Equal(t, tt.viewer == "", detail.SignInHint())
		})
	}

	t.Run("seller views own item", func(t *testing.T) {
		fake.SignInAs(seller)
		sessions := initSessions(t, fake)
		detail := NewItemDetail(fake, sessions)
		require.NoError(t, detail.Load(context.Background(), available.ID.String()))
		assert.False(t, detail.CanMessage())
		assert.True(t, detail.IsOwner())
	})
}

func TestItemDetailNotFound(t *testing.T) {
	fake := backendtest.New()
	sessions, _ := newSessions(t, fake, "")
	detail := NewItemDetail(fake, sessions)

	err := detail.Load(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, DetailNotFound, detail.State())
	assert.Nil(t, detail.Item())
}

func TestItemDetailLoadError(t *testing.T) {
	fake := backendtest.New()
	fake.GetItemErr = errors.New("timeout")
	sessions, _ := newSessions(t, fake, "")
	detail := NewItemDetail(fake, sessions)

	require.Error(t, detail.Load(context.Background(), uuid.NewString()))
	assert.Equal(t, DetailError, detail.State())
}

func TestItemDetailSendToSeller(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	item := fake.AddItem(models.Item{Title: "Lamp", SellerID: seller.ID})
	sessions, buyer := newSessions(t, fake, "buyer@example.com")

	detail := NewItemDetail(fake, sessions)
	require.NoError(t, detail.Load(context.Background(), item.ID.String()))

	detail.SetDraft("  Is it still available?  ")
	require.NoError(t, detail.Send(context.Background()))
	assert.Empty(t, detail.Draft())
	assert.Equal(t, MessageSentText, detail.Notice())

	rows, err := fake.ListUserMessages(context.Background(), seller.ID.String())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Is it still available?", rows[0].Content)
	assert.Equal(t, buyer.ID.String(), rows[0].SenderID)
	assert.Equal(t, item.ID.String(), rows[0].ItemID)
}

func TestItemDetailEmptyMessageNotSent(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	item := fake.AddItem(models.Item{Title: "Lamp", SellerID: seller.ID})
	sessions, _ := newSessions(t, fake, "buyer@example.com")

	detail := NewItemDetail(fake, sessions)
	require.NoError(t, detail.Load(context.Background(), item.ID.String()))

	detail.SetDraft("   \n\t ")
	assert.ErrorIs(t, detail.Send(context.Background()), ErrEmptyMessage)
	assert.Equal(t, "   \n\t ", detail.Draft())
	assert.Zero(t, fake.CallCount("InsertMessage"))
}

func TestItemDetailSendFailureKeepsDraft(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	item := fake.AddItem(models.Item{Title: "Lamp", SellerID: seller.ID})
	sessions, _ := newSessions(t, fake, "buyer@example.com")
	fake.InsertMessageErr = errors.New("insert failed")

	detail := NewItemDetail(fake, sessions)
	require.NoError(t, detail.Load(context.Background(), item.ID.String()))

	detail.SetDraft("hello")
	require.Error(t, detail.Send(context.Background()))
	assert.Equal(t, "hello", detail.Draft())
	assert.EqualError(t, detail.SendErr(), "insert failed")
	assert.Empty(t, detail.Notice())
}

func TestItemDetailSendRequiresSignIn(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	item := fake.AddItem(models.Item{Title: "Lamp", SellerID: seller.ID})
	sessions, _ := newSessions(t, fake, "")

	detail := NewItemDetail(fake, sessions)
	require.NoError(t, detail.Load(context.Background(), item.ID.String()))

	detail.SetDraft("hello")
	assert.ErrorIs(t, detail.Send(context.Background()), ErrNotSignedIn)
	assert.Zero(t, fake.CallCount("InsertMessage"))
}
