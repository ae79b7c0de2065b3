package domain

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewItem(t *testing.T) {
	item, err := NewItem(Item{HostName: " AXIELL ", HostID: "mlt-1"})
	require.NoError(t, err)
	assert.Equal(t, "AXIELL", item.HostName)
	assert.Equal(t, ItemCategoryUnknown, item.ItemCategory)
	assert.Equal(t, EnvironmentNone, item.PreferredEnvironment)
	assert.Equal(t, PackagingNone, item.Packaging)
	assert.Equal(t, LocationUnknown, item.Location)

	tests := []struct {
		name string
		item Item
	}{
		{name: "no host", item: Item{HostID: "mlt-1"}},
		{name: "no id", item: Item{HostName: "AXIELL"}},
		{name: "negative", item: Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: -1, Location: "A"}},
		{name: "stock nowhere", item: Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 3}},
		{name: "category", item: Item{HostName: "AXIELL", HostID: "mlt-1", ItemCategory: "VINYL"}},
		{name: "environment", item: Item{HostName: "AXIELL", HostID: "mlt-1", PreferredEnvironment: "HOT"}},
		{name: "packaging", item: Item{HostName: "AXIELL", HostID: "mlt-1", Packaging: "CRATE"}},
		{name: "relative callback", item: Item{HostName: "AXIELL", HostID: "mlt-1", CallbackURL: "/cb"}},
		{name: "newline in id", item: Item{HostName: "AXIELL", HostID: "mlt-1\r\nX: y"}},
		{name: "tab in host", item: Item{HostName: "AXI\tELL", HostID: "mlt-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewItem(tt.item)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestItemIdentity(t *testing.T) {
	a := Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 1}
	b := Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 7, Location: "X"}
	c := Item{HostName: "ASTA", HostID: "mlt-1"}

	assert.True(t, a.SameAs(b))
	assert.False(t, a.SameAs(c))
}

func TestPick(t *testing.T) {
	item := Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 3, Location: "SHELF-4"}

	picked, shortfall := item.Pick(2)
	assert.Equal(t, 1, picked.Quantity)
	assert.Equal(t, "SHELF-4", picked.Location)
	assert.Zero(t, shortfall)

	picked, shortfall = picked.Pick(4)
	assert.Equal(t, 0, picked.Quantity)
	assert.Equal(t, LocationWithLender, picked.Location)
	assert.Equal(t, 3, shortfall)

	assert.Equal(t, 3, item.Quantity, "Pick must not mutate the receiver")
}

func TestPickNeverGoesNegative(t *testing.T) {
	for seed := range uint64(100) {
		rng := rand.New(rand.NewPCG(seed, seed))
		item := Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: rng.IntN(5), Location: "SHELF-1"}

		for range 20 {
			before := item
			amount := rng.IntN(4)
			var shortfall int
			item, shortfall = item.Pick(amount)

			require.GreaterOrEqual(t, item.Quantity, 0, "seed %d", seed)
			require.Equal(t, max(before.Quantity-amount, 0), item.Quantity, "seed %d", seed)
			require.Equal(t, max(amount-before.Quantity, 0), shortfall, "seed %d", seed)
			if item.Quantity == 0 {
				require.Equal(t, LocationWithLender, item.Location, "seed %d", seed)
			}
		}
	}
}

func TestSynchronizeQuantityAndLocation(t *testing.T) {
	loc := func(s string) *string { return &s }
	onLoan := Item{HostName: "AXIELL", HostID: "mlt-1", Location: LocationWithLender}
	shelved := Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 2, Location: "SHELF-1"}

	tests := []struct {
		name     string
		item     Item
		quantity int
		location *string
		want     Item
		err      error
	}{
		{name: "arrives", item: onLoan, quantity: 1, location: loc("WAREHOUSE-A"),
			want: Item{HostName: "AXIELL", HostID: "mlt-1", Quantity: 1, Location: "WAREHOUSE-A"}},
		{name: "zero keeps lender", item: onLoan, quantity: 0,
			want: onLoan},
		{name: "zero without location", item: shelved, quantity: 0,
			want: Item{HostName: "AXIELL", HostID: "mlt-1", Location: LocationUnknown}},
		{name: "blank location", item: shelved, quantity: 0, location: loc(" "),
			want: Item{HostName: "AXIELL", HostID: "mlt-1", Location: LocationUnknown}},
		{name: "stock without location", item: shelved, quantity: 2, err: ErrValidation},
		{name: "stock at unknown", item: shelved, quantity: 2, location: loc(LocationUnknown), err: ErrValidation},
		{name: "negative", item: shelved, quantity: -1, location: loc("SHELF-1"), err: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.item.SynchronizeQuantityAndLocation(tt.quantity, tt.location)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
