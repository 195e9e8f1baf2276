// Package main provides a command-line eligibility probe. Operations staff
// use it to verify clearinghouse connectivity and inspect a single 270/271
// exchange without going through the order pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quartzhealth/portalbridge/internal/clearinghouse"
	"github.com/quartzhealth/portalbridge/internal/domain/order"
	"github.com/quartzhealth/portalbridge/internal/edi/x12"
	"github.com/quartzhealth/portalbridge/internal/eligibility"
)

func main() {
	var (
		firstName = flag.String("first", "", "patient first name")
		lastName  = flag.String("last", "", "patient last name")
		dob       = flag.String("dob", "", "date of birth (YYYY-MM-DD)")
		memberID  = flag.String("member", "", "payer member ID")
		timeout   = flag.Duration("timeout", 30*time.Second, "exchange timeout")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *firstName == "" || *lastName == "" || *dob == "" {
		logger.Fatal("first, last and dob are required")
	}

	endpoint := os.Getenv("CLEARINGHOUSE_ENDPOINT")
	if endpoint == "" {
		logger.Fatal("CLEARINGHOUSE_ENDPOINT is required")
	}

	transport, err := clearinghouse.New(clearinghouse.Config{
		Endpoint:   endpoint,
		Username:   os.Getenv("CLEARINGHOUSE_USERNAME"),
		Password:   os.Getenv("CLEARINGHOUSE_PASSWORD"),
		SenderID:   envOr("CORE_SENDER_ID", "QUARTZHEALTH"),
		ReceiverID: envOr("CORE_RECEIVER_ID", "CLEARINGHOUSE"),
		Timeout:    *timeout,
	}, nil, logger)
	if err != nil {
		logger.Fatal("clearinghouse setup failed", zap.Error(err))
	}

	service := eligibility.New(eligibility.Config{
		Provider:   x12.Provider{Name: os.Getenv("PROVIDER_NAME"), NPI: os.Getenv("PROVIDER_NPI")},
		Payer:      x12.Payer{Name: os.Getenv("PAYER_NAME"), ID: os.Getenv("PAYER_ID")},
		SenderID:   envOr("CORE_SENDER_ID", "QUARTZHEALTH"),
		ReceiverID: envOr("CORE_RECEIVER_ID", "CLEARINGHOUSE"),
		Username:   os.Getenv("CLEARINGHOUSE_USERNAME"),
		Password:   os.Getenv("CLEARINGHOUSE_PASSWORD"),
	}, transport, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := service.Check(ctx, order.Demographics{
		FirstName:   *firstName,
		LastName:    *lastName,
		DateOfBirth: *dob,
		MemberID:    *memberID,
	})
	if err != nil {
		logger.Fatal("eligibility check failed", zap.Error(err))
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	out.Encode(result)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
