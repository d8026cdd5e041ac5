// The seed binary creates a demo case and prints a ready-to-use invite URL,
// for local development and demos.
//
// Usage: seed [case-id] [phone]
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"citizen-access-plane/internal/audit"
	auditrepo "citizen-access-plane/internal/audit/repository"
	caserepo "citizen-access-plane/internal/casefile/repository"
	"citizen-access-plane/internal/config"
	"citizen-access-plane/internal/db"
	"citizen-access-plane/internal/outbox"
	outboxrepo "citizen-access-plane/internal/outbox/repository"
	"citizen-access-plane/internal/outbox/sms"
	"citizen-access-plane/internal/security"
	sessionrepo "citizen-access-plane/internal/session/repository"
	"citizen-access-plane/internal/session/service"
)

func main() {
	caseID := "demo-case-1"
	phone := ""
	if len(os.Args) > 1 {
		caseID = os.Args[1]
	}
	if len(os.Args) > 2 {
		phone = os.Args[2]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	hasher := security.NewHasher(cfg.HashSecret)
	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), nil)

	// Seeded invites go through the outbox like any other; without a phone
	// nothing is enqueued and the URL below is the only copy of the token.
	dispatcher := outbox.NewDispatcher(
		outboxrepo.NewPostgresRepository(database), sms.NewNoopClient(), hasher, auditor, nil,
		cfg.OutboxMaxRetry, cfg.BackoffBase(), cfg.BackoffCap())

	manager := service.NewManager(
		sessionrepo.NewPostgresRepository(database), caserepo.NewPostgresRepository(database),
		dispatcher, hasher, auditor, nil,
		cfg.InviteTTL(), cfg.PublicBaseURL, cfg.DemoMode, cfg.UnknownTokenPolicy)

	res, err := manager.IssueInvite(context.Background(), caseID, "", phone)
	if err != nil {
		log.Fatalf("issue invite: %v", err)
	}

	fmt.Printf("case:       %s\n", caseID)
	fmt.Printf("session:    %s\n", res.SessionID)
	fmt.Printf("expires at: %s\n", res.ExpiresAt)
	fmt.Printf("invite url: %s\n", res.InviteURL)
}
