package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Deterministic ids so reruns upsert instead of duplicating.
var (
	storeID = uuid.MustParse("6f1f64a5-0000-4000-8000-000000000001")
	nsSoko  = uuid.MustParse("6f1f64a5-0000-4000-8000-00000000beef")
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	log.Printf("Seeding store %s", storeID)
	seedCatalog(db)
	seedCoupons(db)
	seedEndpoints(db)

	log.Println("Seeding completed successfully!")
}

type seedProduct struct {
	Name     string
	Price    int64
	Variants []seedVariant
}

type seedVariant struct {
	SKU      string
	Price    int64
	Grams    int64
	Quantity int64
	LowStock int64
}

func seedCatalog(db *sql.DB) {
	products := []seedProduct{
		{"Ceramic Mug", 45000, []seedVariant{
			{"MUG-WHT", 45000, 380, 120, 10},
			{"MUG-BLK", 47500, 380, 80, 10},
		}},
		{"Canvas Tote Bag", 89000, []seedVariant{
			{"TOTE-STD", 89000, 250, 45, 5},
		}},
		{"Kitenge Throw Pillow", 120000, []seedVariant{
			{"PIL-RED", 120000, 600, 25, 5},
			{"PIL-BLU", 120000, 600, 3, 5},
		}},
		{"Stainless Water Bottle", 150000, []seedVariant{
			{"BOT-500", 150000, 320, 200, 20},
			{"BOT-750", 180000, 410, 0, 20},
		}},
	}

	fmt.Println("Seeding products...")
	for _, p := range products {
		productID := uuid.NewSHA1(nsSoko, []byte("product:"+p.Name))
		_, err := db.Exec(`
			INSERT INTO products (id, store_id, name, price, currency, active)
			VALUES ($1, $2, $3, $4, 'KES', TRUE)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price;
		`, productID, storeID, p.Name, p.Price)
		if err != nil {
			log.Printf("Failed to upsert product %s: %v", p.Name, err)
			continue
		}
		for _, v := range p.Variants {
			variantID := uuid.NewSHA1(nsSoko, []byte("variant:"+v.SKU))
			_, err := db.Exec(`
				INSERT INTO product_variants (id, product_id, sku, price, weight_grams, active)
				VALUES ($1, $2, $3, $4, $5, TRUE)
				ON CONFLICT (sku) DO UPDATE SET price = EXCLUDED.price, weight_grams = EXCLUDED.weight_grams;
			`, variantID, productID, v.SKU, v.Price, v.Grams)
			if err != nil {
				log.Printf("Failed to upsert variant %s: %v", v.SKU, err)
				continue
			}
			_, err = db.Exec(`
				INSERT INTO inventory (variant_id, quantity, low_stock_threshold, track_inventory, allow_backorder, version)
				VALUES ($1, $2, $3, TRUE, FALSE, 1)
				ON CONFLICT (variant_id) DO UPDATE SET quantity = EXCLUDED.quantity, low_stock_threshold = EXCLUDED.low_stock_threshold;
			`, variantID, v.Quantity, v.LowStock)
			if err != nil {
				log.Printf("Failed to upsert inventory for %s: %v", v.SKU, err)
			}
		}
	}
}

func seedCoupons(db *sql.DB) {
	fmt.Println("Seeding coupons...")
	coupons := []struct {
		Code        string
		Kind        string
		Value       int64
		PercentBps  int32
		MinSpend    int64
		MaxDiscount int64
		UsageLimit  *int32
	}{
		{"KARIBU10", "percentage", 0, 1000, 100000, 50000, nil},
		{"FLAT500", "fixed_amount", 50000, 0, 200000, 0, limit(100)},
		{"FREESHIP", "free_shipping", 0, 0, 150000, 0, nil},
	}
	for _, c := range coupons {
		id := uuid.NewSHA1(nsSoko, []byte("coupon:"+c.Code))
		_, err := db.Exec(`
			INSERT INTO coupons (id, code, kind, value, percent_bps, min_spend, max_discount, usage_limit, used_count, valid_from, active, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, now(), TRUE, 1)
			ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value, percent_bps = EXCLUDED.percent_bps;
		`, id, c.Code, c.Kind, c.Value, c.PercentBps, c.MinSpend, c.MaxDiscount, c.UsageLimit)
		if err != nil {
			log.Printf("Failed to upsert coupon %s: %v", c.Code, err)
		}
	}
}

func seedEndpoints(db *sql.DB) {
	url := os.Getenv("SEED_WEBHOOK_URL")
	if url == "" {
		return
	}
	fmt.Println("Seeding webhook endpoint...")
	id := uuid.NewSHA1(nsSoko, []byte("endpoint:"+url))
	_, err := db.Exec(`
		INSERT INTO webhook_endpoints (id, url, secret, topics, active)
		VALUES ($1, $2, $3, ARRAY['order.created', 'payment.succeeded', 'payment.failed'], TRUE)
		ON CONFLICT (id) DO NOTHING;
	`, id, url, os.Getenv("SEED_WEBHOOK_SECRET"))
	if err != nil {
		log.Printf("Failed to seed webhook endpoint: %v", err)
	}
}

func limit(n int32) *int32 { return &n }
