package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const (
	// LocationUnknown is the location of an item that has never been in storage.
	LocationUnknown = "UNKNOWN"
	// LocationWithLender is the location of an item whose last copy was picked.
	LocationWithLender = "WITH_LENDER"
)

type ItemCategory string

const (
	ItemCategoryPaper     ItemCategory = "PAPER"
	ItemCategoryDisc      ItemCategory = "DISC"
	ItemCategoryFilm      ItemCategory = "FILM"
	ItemCategoryPhoto     ItemCategory = "PHOTO"
	ItemCategoryEquipment ItemCategory = "EQUIPMENT"
	ItemCategoryBulkItems ItemCategory = "BULK_ITEMS"
	ItemCategoryUnknown   ItemCategory = "UNKNOWN"
)

func (c ItemCategory) IsValid() bool {
	switch c {
	case ItemCategoryPaper, ItemCategoryDisc, ItemCategoryFilm, ItemCategoryPhoto,
		ItemCategoryEquipment, ItemCategoryBulkItems, ItemCategoryUnknown:
		return true
	default:
		return false
	}
}

type Environment string

const (
	EnvironmentNone    Environment = "NONE"
	EnvironmentFreeze  Environment = "FREEZE"
	EnvironmentFragile Environment = "FRAGILE"
)

func (e Environment) IsValid() bool {
	switch e {
	case EnvironmentNone, EnvironmentFreeze, EnvironmentFragile:
		return true
	default:
		return false
	}
}

type Packaging string

const (
	PackagingNone   Packaging = "NONE"
	PackagingBox    Packaging = "BOX"
	PackagingAbobox Packaging = "ABOBOX"
)

func (p Packaging) IsValid() bool {
	switch p {
	case PackagingNone, PackagingBox, PackagingAbobox:
		return true
	default:
		return false
	}
}

// Item is a catalogued object that may be held by one or more storage systems.
// Identity is (HostName, HostID); two items are equal when their keys are.
type Item struct {
	HostName             string       `json:"host_name"`
	HostID               string       `json:"host_id"`
	Description          string       `json:"description"`
	ItemCategory         ItemCategory `json:"item_category"`
	PreferredEnvironment Environment  `json:"preferred_environment"`
	Packaging            Packaging    `json:"packaging"`
	CallbackURL          string       `json:"callback_url,omitempty"`
	Location             string       `json:"location"`
	Quantity             int          `json:"quantity"`
	Version              int          `json:"version"` // optimistic locking
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// ItemKey is the natural key of an item.
type ItemKey struct {
	HostName string
	HostID   string
}

func (k ItemKey) String() string {
	return k.HostName + "/" + k.HostID
}

// NewItem validates item and fills in defaults for the optional descriptive fields.
func NewItem(item Item) (Item, error) {
	item.HostName = strings.TrimSpace(item.HostName)
	item.HostID = strings.TrimSpace(item.HostID)
	if item.HostName == "" {
		return Item{}, fmt.Errorf("%w: host name is required", ErrValidation)
	}
	if item.HostID == "" {
		return Item{}, fmt.Errorf("%w: host id is required", ErrValidation)
	}
	if err := validatePrintable("host name", item.HostName); err != nil {
		return Item{}, err
	}
	if err := validatePrintable("host id", item.HostID); err != nil {
		return Item{}, err
	}
	if item.Quantity < 0 {
		return Item{}, fmt.Errorf("%w: quantity must not be negative, got %d", ErrValidation, item.Quantity)
	}

	if item.ItemCategory == "" {
		item.ItemCategory = ItemCategoryUnknown
	}
	if !item.ItemCategory.IsValid() {
		return Item{}, fmt.Errorf("%w: unknown item category %q", ErrValidation, item.ItemCategory)
	}
	if item.PreferredEnvironment == "" {
		item.PreferredEnvironment = EnvironmentNone
	}
	if !item.PreferredEnvironment.IsValid() {
		return Item{}, fmt.Errorf("%w: unknown environment %q", ErrValidation, item.PreferredEnvironment)
	}
	if item.Packaging == "" {
		item.Packaging = PackagingNone
	}
	if !item.Packaging.IsValid() {
		return Item{}, fmt.Errorf("%w: unknown packaging %q", ErrValidation, item.Packaging)
	}

	item.Location = strings.TrimSpace(item.Location)
	if item.Location == "" {
		item.Location = LocationUnknown
	}
	if item.Quantity != 0 && item.Location == LocationUnknown {
		return Item{}, fmt.Errorf("%w: item with quantity %d must have a location", ErrValidation, item.Quantity)
	}

	if item.CallbackURL != "" {
		if err := validateAbsoluteURL(item.CallbackURL); err != nil {
			return Item{}, err
		}
	}

	return item, nil
}

func (i Item) Key() ItemKey {
	return ItemKey{HostName: i.HostName, HostID: i.HostID}
}

// SameAs reports identity equality. Mutable fields are ignored.
func (i Item) SameAs(other Item) bool {
	return i.Key() == other.Key()
}

// Pick removes amount copies from storage. Quantity is clamped at zero; the
// returned shortfall is how many copies were picked beyond what was recorded.
// When nothing is left the item is with the lender.
func (i Item) Pick(amount int) (Item, int) {
	if amount < 0 {
		amount = 0
	}

	shortfall := 0
	if amount > i.Quantity {
		shortfall = amount - i.Quantity
	}

	i.Quantity = max(i.Quantity-amount, 0)
	if i.Quantity == 0 {
		i.Location = LocationWithLender
	}

	return i, shortfall
}

// SynchronizeQuantityAndLocation applies a stock count reported by a storage
// system. A nil location carries no information: it is only legal when the
// quantity is zero, and it never overwrites LocationWithLender.
func (i Item) SynchronizeQuantityAndLocation(quantity int, location *string) (Item, error) {
	if quantity < 0 {
		return Item{}, fmt.Errorf("%w: quantity must not be negative, got %d", ErrValidation, quantity)
	}
	if location == nil && quantity != 0 {
		return Item{}, fmt.Errorf("%w: location is required when quantity is %d", ErrValidation, quantity)
	}

	i.Quantity = quantity

	switch {
	case location != nil:
		loc := strings.TrimSpace(*location)
		if loc == "" {
			loc = LocationUnknown
		}
		if quantity != 0 && loc == LocationUnknown {
			return Item{}, fmt.Errorf("%w: item with quantity %d must have a location", ErrValidation, quantity)
		}
		i.Location = loc
	case i.Location == LocationWithLender:
		// keep the out-on-loan fact
	default:
		i.Location = LocationUnknown
	}

	return i, nil
}

// validatePrintable rejects control characters in values that end up in
// keys, URLs and mail headers.
func validatePrintable(field, value string) error {
	if strings.ContainsFunc(value, unicode.IsControl) {
		return fmt.Errorf("%w: %s %q contains control characters", ErrValidation, field, value)
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid callback url %q: %v", ErrValidation, raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: callback url %q must be absolute", ErrValidation, raw)
	}
	return nil
}
