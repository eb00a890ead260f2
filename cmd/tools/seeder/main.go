package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/govalues/decimal"
	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-payments/internal/app"
	"github.com/noah-isme/toko-payments/internal/obs"
	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/store"
)

// seeder creates unfinished demo orders bound to a provider so the checkout flow can be
// exercised against the dummy gateway.
func main() {
	var (
		count    = flag.Int("count", 5, "number of orders to create")
		provider = flag.String("provider", "dummy", "payment service code attached to each order")
		currency = flag.String("currency", "eur", "order currency")
		prefix   = flag.String("prefix", "demo", "order id prefix")
	)
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if err := store.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := app.OpenDatabase(ctx, dbURL, "seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()
	orders := store.NewPostgres(pool)

	stamp := time.Now().UTC().Format("20060102150405")
	for i := 1; i <= *count; i++ {
		order := demoOrder(fmt.Sprintf("%s-%s-%03d", *prefix, stamp, i), *provider, *currency, i)
		if _, err := orders.Create(ctx, order); err != nil {
			if errors.Is(err, store.ErrOrderExists) {
				logger.Warn().Str("order_id", order.ID).Msg("order already seeded")
				continue
			}
			logger.Fatal().Err(err).Str("order_id", order.ID).Msg("create order")
		}
		logger.Info().Str("order_id", order.ID).Str("provider", *provider).Msg("order seeded")
	}
}

func demoOrder(id, provider, currency string, n int) payment.Order {
	unit := decimal.MustNew(int64(1000+n*250), 2)
	qty := n%3 + 1
	value, _ := unit.Mul(decimal.MustNew(int64(qty), 0))
	tax, _ := value.Mul(decimal.MustNew(19, 2))
	return payment.Order{
		ID:         id,
		CustomerID: fmt.Sprintf("cust-%d", n),
		Status:     payment.StatusUnfinished,
		Price: payment.Price{
			Value:    value,
			Costs:    decimal.MustNew(495, 2),
			Tax:      tax.Round(2),
			Currency: currency,
		},
		Addresses: []payment.Address{{
			Type:       payment.AddressTypePayment,
			FirstName:  "Demo",
			LastName:   fmt.Sprintf("Customer %d", n),
			Address1:   "Main Street 1",
			PostalCode: "10115",
			City:       "Berlin",
			CountryID:  "de",
			LanguageID: "de",
			Email:      fmt.Sprintf("demo%d@example.com", n),
		}},
		Items: []payment.LineItem{{
			ProductCode: fmt.Sprintf("SKU-%d", n),
			Name:        "Demo product",
			Quantity:    qty,
			Price:       unit,
		}},
		Services: []payment.Service{{Type: payment.ServiceTypePayment, Code: provider}},
	}
}
