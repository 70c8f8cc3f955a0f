package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/bankops/internal/models"
)

var (
	targetURL      string
	totalAccounts  int
	initialBalance string
	concurrency    int
	token          string
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&totalAccounts, "accounts", 1000, "Number of demo clients to provision")
	flag.StringVar(&initialBalance, "balance", "100.00", "Opening amount of every account")
	flag.IntVar(&concurrency, "workers", 8, "Concurrent provisioning requests")
	flag.StringVar(&token, "token", os.Getenv("SEED_TOKEN"), "Bearer token forwarded to the notification service")
}

// accountNumber must match the numbering used by the benchmark.
func accountNumber(i int) string {
	return fmt.Sprintf("DEMO-%06d", i)
}

func main() {
	flag.Parse()

	amount, err := decimal.NewFromString(initialBalance)
	if err != nil {
		log.Fatalf("invalid balance %q: %v", initialBalance, err)
	}

	log.Infof("--- Provisioning %d demo accounts via %s ---", totalAccounts, targetURL)
	client := &http.Client{Timeout: 10 * time.Second}

	var created, existing int64
	results := make(chan int, totalAccounts)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(concurrency)
	for i := 1; i <= totalAccounts; i++ {
		i := i
		g.Go(func() error {
			status, err := provision(ctx, client, i, amount)
			if err != nil {
				return err
			}
			results <- status
			return nil
		})
	}
	err = g.Wait()
	close(results)
	for status := range results {
		if status == http.StatusCreated {
			created++
		} else {
			existing++
		}
	}
	if err != nil {
		log.Fatalf("Seeding failed after %d accounts: %v", created, err)
	}

	log.WithFields(log.Fields{"created": created, "already_present": existing}).Info("Seeding finished")
}

func provision(ctx context.Context, client *http.Client, i int, amount decimal.Decimal) (int, error) {
	username := fmt.Sprintf("demo%06d", i)
	payload := models.ProvisionRequest{
		Username:      username,
		Password:      "demo-" + username,
		Email:         username + "@demo.bank.test",
		Role:          "CLIENT",
		FirstName:     "Demo",
		LastName:      fmt.Sprintf("Client %d", i),
		Birthdate:     "1990-01-01",
		PostalAddress: fmt.Sprintf("%d Ledger Street", i),
		IdentityRef:   fmt.Sprintf("DEMO-ID-%06d", i),
		AccountNumber: accountNumber(i),
		InitialAmount: &amount,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/accounts", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return resp.StatusCode, nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("account %s: status %d: %s", accountNumber(i), resp.StatusCode, msg)
	}
}
