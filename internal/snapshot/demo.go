package snapshot

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/salesql/salesql/internal/catalog"
)

type demoProduct struct {
	name     string
	category string
	minPrice float64
	maxPrice float64
}

var demoProducts = []demoProduct{
	{"Laptop Pro 14", "Electronics", 1100, 1900},
	{"Wireless Mouse", "Electronics", 15, 45},
	{"Mechanical Keyboard", "Electronics", 60, 180},
	{"4K Monitor", "Electronics", 250, 600},
	{"Standing Desk", "Furniture", 300, 800},
	{"Office Chair", "Furniture", 120, 450},
	{"Bookshelf", "Furniture", 60, 220},
	{"Espresso Machine", "Kitchen", 180, 700},
	{"Chef Knife", "Kitchen", 40, 160},
	{"Vacuum-Sealed Coffee Beans", "Grocery", 8, 25},
	{"Green Tea", "Grocery", 4, 15},
	{"Running Shoes", "Apparel", 70, 180},
	{"Rain Jacket", "Apparel", 50, 200},
}

var (
	demoRegions   = []string{"North", "South", "East", "West", "Central"}
	demoFirst     = []string{"Alice", "Bob", "Chen", "Dana", "Emil", "Fatima", "Goran", "Hana", "Ivan", "Jonas", "Kira", "Liam"}
	demoLast      = []string{"Andersson", "Berg", "Costa", "Dahl", "Eriksen", "Fischer", "Garcia", "Holm", "Ito", "Jensen"}
	demoSalesSpan = 90 * 24 * time.Hour
)

// DemoSource generates a deterministic products/sales dataset from a seed.
type DemoSource struct {
	seed      int64
	saleCount int
	now       func() time.Time

	products []catalog.Product
	sales    []catalog.Sale
}

func NewDemoSource(seed int64, saleCount int, now func() time.Time) *DemoSource {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DemoSource{seed: seed, saleCount: saleCount, now: now}
}

func (s *DemoSource) Name() string {
	return "demo"
}

func (s *DemoSource) Products(context.Context) ([]catalog.Product, error) {
	s.generate()
	return append([]catalog.Product(nil), s.products...), nil
}

func (s *DemoSource) Sales(context.Context) ([]catalog.Sale, error) {
	s.generate()
	return append([]catalog.Sale(nil), s.sales...), nil
}

func (s *DemoSource) generate() {
	if s.products != nil {
		return
	}
	rnd := rand.New(rand.NewSource(s.seed))
	end := s.now().UTC().Truncate(time.Second)
	start := end.Add(-demoSalesSpan)

	s.products = make([]catalog.Product, 0, len(demoProducts))
	for i, spec := range demoProducts {
		s.products = append(s.products, catalog.Product{
			ID:        int64(i + 1),
			Name:      spec.name,
			Category:  spec.category,
			Price:     round2(spec.minPrice + rnd.Float64()*(spec.maxPrice-spec.minPrice)),
			Stock:     int64(rnd.Intn(200)),
			CreatedAt: start.Add(-time.Duration(rnd.Intn(365*24)) * time.Hour),
		})
	}

	s.sales = make([]catalog.Sale, 0, s.saleCount)
	for i := 0; i < s.saleCount; i++ {
		product := s.products[rnd.Intn(len(s.products))]
		quantity := int64(rnd.Intn(5) + 1)
		s.sales = append(s.sales, catalog.Sale{
			ID:           int64(i + 1),
			ProductID:    product.ID,
			Quantity:     quantity,
			TotalAmount:  round2(product.Price * float64(quantity)),
			SaleDate:     start.Add(time.Duration(rnd.Int63n(int64(demoSalesSpan)))).Truncate(time.Second),
			CustomerName: fmt.Sprintf("%s %s", pickOne(rnd, demoFirst), pickOne(rnd, demoLast)),
			Region:       pickOne(rnd, demoRegions),
		})
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
