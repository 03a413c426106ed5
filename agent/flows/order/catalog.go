package order

import "strings"

// CatalogItem is one orderable grocery product. Prices are per unit and
// frozen into the cart line at add time.
type CatalogItem struct {
	ID       string
	Name     string
	Price    float64
	Category string
}

// BundleLine is one ingredient of a recipe bundle.
type BundleLine struct {
	ItemID   string
	Quantity int
}

// Catalog is the static product sheet: items by id plus the recipe bundles
// that expand to ingredient lists. Loaded once, never mutated.
type Catalog struct {
	order   []string
	items   map[string]CatalogItem
	bundles map[string][]BundleLine
}

func (c *Catalog) Item(id string) (CatalogItem, bool) {
	item, ok := c.items[id]
	return item, ok
}

// Items lists the catalog in a stable order.
func (c *Catalog) Items() []CatalogItem {
	out := make([]CatalogItem, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Bundle resolves a recipe name to its ingredient lines. Matching ignores
// case and surrounding whitespace.
func (c *Catalog) Bundle(name string) ([]BundleLine, bool) {
	lines, ok := c.bundles[normalizeBundleName(name)]
	return lines, ok
}

// BundleNames lists the known recipes, for the "which bundles do you have"
// reply.
func (c *Catalog) BundleNames() []string {
	out := make([]string, 0, len(c.bundles))
	for _, name := range bundleOrder {
		if _, ok := c.bundles[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func normalizeBundleName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var bundleOrder = []string{"spaghetti dinner", "breakfast basics", "grilled cheese"}

// DefaultCatalog returns the grocery sheet the ordering demo runs against.
func DefaultCatalog() *Catalog {
	items := []CatalogItem{
		{ID: "milk_whole", Name: "Whole Milk", Price: 3.79, Category: "dairy"},
		{ID: "milk_almond", Name: "Almond Milk", Price: 4.29, Category: "dairy"},
		{ID: "eggs_dozen", Name: "Dozen Eggs", Price: 4.99, Category: "dairy"},
		{ID: "butter_salted", Name: "Salted Butter", Price: 5.49, Category: "dairy"},
		{ID: "cheese_cheddar", Name: "Cheddar Cheese", Price: 6.99, Category: "dairy"},
		{ID: "parmesan_wedge", Name: "Parmesan Wedge", Price: 7.99, Category: "dairy"},
		{ID: "bread_whole_wheat", Name: "Whole Wheat Bread", Price: 3.49, Category: "bakery"},
		{ID: "bread_sourdough", Name: "Sourdough Loaf", Price: 5.99, Category: "bakery"},
		{ID: "bagels_plain", Name: "Plain Bagels (6 pack)", Price: 4.49, Category: "bakery"},
		{ID: "bananas_bunch", Name: "Bananas (bunch)", Price: 1.99, Category: "produce"},
		{ID: "tomatoes_roma", Name: "Roma Tomatoes (lb)", Price: 2.49, Category: "produce"},
		{ID: "onions_yellow", Name: "Yellow Onions (lb)", Price: 1.29, Category: "produce"},
		{ID: "garlic_head", Name: "Garlic (head)", Price: 0.89, Category: "produce"},
		{ID: "basil_fresh", Name: "Fresh Basil", Price: 2.99, Category: "produce"},
		{ID: "pasta_spaghetti", Name: "Spaghetti (1 lb)", Price: 1.99, Category: "pantry"},
		{ID: "sauce_marinara", Name: "Marinara Sauce", Price: 3.99, Category: "pantry"},
		{ID: "olive_oil_500", Name: "Olive Oil (500 ml)", Price: 8.99, Category: "pantry"},
		{ID: "rice_basmati", Name: "Basmati Rice (2 lb)", Price: 4.79, Category: "pantry"},
		{ID: "ground_beef", Name: "Ground Beef (lb)", Price: 6.49, Category: "meat"},
		{ID: "chicken_breast", Name: "Chicken Breast (lb)", Price: 5.99, Category: "meat"},
	}

	c := &Catalog{
		items:   make(map[string]CatalogItem, len(items)),
		bundles: make(map[string][]BundleLine),
	}
	for _, item := range items {
		c.order = append(c.order, item.ID)
		c.items[item.ID] = item
	}

	c.bundles["spaghetti dinner"] = []BundleLine{
		{ItemID: "pasta_spaghetti", Quantity: 1},
		{ItemID: "sauce_marinara", Quantity: 1},
		{ItemID: "ground_beef", Quantity: 1},
		{ItemID: "parmesan_wedge", Quantity: 1},
		{ItemID: "garlic_head", Quantity: 1},
		{ItemID: "basil_fresh", Quantity: 1},
	}
	c.bundles["breakfast basics"] = []BundleLine{
		{ItemID: "eggs_dozen", Quantity: 1},
		{ItemID: "bread_whole_wheat", Quantity: 1},
		{ItemID: "milk_whole", Quantity: 1},
		{ItemID: "butter_salted", Quantity: 1},
	}
	c.bundles["grilled cheese"] = []BundleLine{
		{ItemID: "bread_sourdough", Quantity: 1},
		{ItemID: "cheese_cheddar", Quantity: 1},
		{ItemID: "butter_salted", Quantity: 1},
	}
	return c
}
