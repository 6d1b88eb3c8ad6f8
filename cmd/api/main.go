package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/joho/godotenv"

	"github.com/whistlechain/backend/internal/api"
	"github.com/whistlechain/backend/internal/audit"
	"github.com/whistlechain/backend/internal/bounty"
	"github.com/whistlechain/backend/internal/config"
	"github.com/whistlechain/backend/internal/events"
	"github.com/whistlechain/backend/internal/inspector"
	"github.com/whistlechain/backend/internal/ipfs"
	"github.com/whistlechain/backend/internal/ledger"
	"github.com/whistlechain/backend/internal/metrics"
	"github.com/whistlechain/backend/internal/middleware"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/publication"
	"github.com/whistlechain/backend/internal/resolution"
	"github.com/whistlechain/backend/internal/submission"
	"github.com/whistlechain/backend/internal/verification"
	"github.com/whistlechain/backend/internal/wallet"
)

func main() {
	godotenv.Load()
	cfg := config.FromEnv()

	var algodClient *algod.Client
	var registry *ledger.Registry

	client, err := ledger.NewAlgodClient(cfg)
	if err != nil {
		log.Printf("Algod client unavailable, running off-chain only: %v", err)
	} else {
		algodClient = client
	}

	if algodClient != nil && cfg.OnChainEnabled() {
		admin, err := operatorWallet(cfg)
		if err != nil {
			log.Fatalf("Operator signer misconfigured: %v", err)
		}
		registry = ledger.NewRegistry(algodClient, cfg.AppID, admin)
		log.Printf("Evidence registry wired: app_id=%d escrow=%s", cfg.AppID, registry.AppAddress())
	} else {
		log.Printf("No registry configured, state stays off-chain (set EVIDENCE_REGISTRY_APP_ID and ADMIN_PRIVATE_KEY)")
	}

	store := submission.NewMemoryStore()
	pinner := ipfs.NewGateway(cfg.PinataJWT)

	var submitChain submission.Chain
	var verifyChain verification.Chain
	var resolveChain resolution.Chain
	var auditChain audit.Chain
	var disburser bounty.Disburser
	if registry != nil {
		submitChain = registry
		verifyChain = registry
		resolveChain = registry
		auditChain = registry
		disburser = registry
	}

	submissions := submission.NewService(store, pinner, submitChain)
	inspectors := inspector.NewRegistry()
	verifier := verification.NewEngine(inspectors, store, verifyChain)
	resolver := resolution.NewEngine(verifier, store, resolveChain)
	bounties := bounty.NewEngine(disburser)
	auditor := audit.NewEngine(verifier, resolver, store, auditChain)
	publisher := publication.NewBot()

	bus := events.NewBus()
	m := metrics.New()
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: 120})

	server := api.NewServer(cfg.Port, api.Deps{
		Algod:       algodClient,
		Registry:    registry,
		Submissions: submissions,
		Inspectors:  inspectors,
		Verifier:    verifier,
		Resolver:    resolver,
		Bounties:    bounties,
		Auditor:     auditor,
		Publisher:   publisher,
		Bus:         bus,
		Metrics:     m,
		Limiter:     limiter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runPublicationQueue(ctx, publisher, store, bus)

	go func() {
		<-ctx.Done()
		log.Println("Shutdown signal received, draining...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("WhistleChain coordinator starting on port %s", cfg.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// operatorWallet restores the registry signer from either the base64 key or
// the deployer mnemonic.
func operatorWallet(cfg *config.Config) (*wallet.Wallet, error) {
	if cfg.AdminPrivateKey != "" {
		return wallet.FromBase64Key(cfg.AdminPrivateKey)
	}
	return wallet.FromMnemonic(cfg.DeployerMnemonic)
}

// runPublicationQueue publishes scheduled fan-outs whose challenge window
// has elapsed. Only cases the record store shows as verified or beyond go
// out; the rest stay queued for the next sweep.
func runPublicationQueue(ctx context.Context, bot *publication.Bot, store submission.Store, bus events.Emitter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, item := range bot.Due() {
				rec, err := store.Get(item.EvidenceID)
				if err != nil {
					continue
				}
				switch rec.Status {
				case protocol.StatusVerified, protocol.StatusResolved, protocol.StatusPublished:
				default:
					continue
				}
				pub, err := bot.PublishAll(publication.Input{
					EvidenceID:   rec.EvidenceID,
					Category:     rec.Category,
					Organization: rec.Organization,
					Description:  rec.Description,
					IPFSHash:     rec.IPFSHash,
					Verdict:      "VERIFIED",
					TxID:         rec.TxID,
					Block:        rec.Block,
				})
				if err != nil {
					log.Printf("Scheduled publication of %s skipped: %v", item.EvidenceID, err)
					continue
				}
				bus.Emit(events.TypePublicationFanout, "/publication", rec.EvidenceID, map[string]interface{}{
					"platforms_reached": pub.Summary.PlatformsReached,
					"scheduled":         true,
				})
			}
		}
	}
}
