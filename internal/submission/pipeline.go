package submission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/whistlechain/backend/internal/encryption"
	"github.com/whistlechain/backend/internal/ipfs"
	"github.com/whistlechain/backend/internal/ledger"
	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/stake"
	"github.com/whistlechain/backend/internal/wallet"
)

// Pinner pins an encrypted bundle to the object store.
type Pinner interface {
	Pin(ctx context.Context, data []byte, filename string) (*ipfs.PinResult, error)
}

// Chain anchors submissions on the registry application.
type Chain interface {
	SubmitWithStake(ctx context.Context, submitter *wallet.Wallet, ipfsHash string, category protocol.Category, organization, description string, stakeMicro uint64) (*ledger.SubmitResult, error)
}

// Service runs the submission pipeline end to end: wallet, encryption, pin,
// anchor, record. Chain may be nil when no registry is deployed; submissions
// then get locally numbered identifiers with the failure annotated.
type Service struct {
	store  Store
	pinner Pinner
	chain  Chain
	logger *log.Logger

	localCounter atomic.Uint64
}

// NewService wires the pipeline.
func NewService(store Store, pinner Pinner, chain Chain) *Service {
	return &Service{
		store:  store,
		pinner: pinner,
		chain:  chain,
		logger: log.New(log.Writer(), "[SUBMIT] ", log.LstdFlags),
	}
}

// Input is one submission request.
type Input struct {
	Files        []encryption.File
	Category     string
	Organization string
	Description  string
	StakeMicro   uint64
	Mnemonic     string // optional: reuse an existing wallet
}

// Receipt is returned to the whistleblower. The encryption key appears here
// and nowhere else; the coordinator does not retain it.
type Receipt struct {
	EvidenceID       string `json:"evidence_id"`
	WalletAddress    string `json:"wallet_address"`
	WalletMnemonic   string `json:"wallet_mnemonic,omitempty"`
	EncryptionKeyHex string `json:"encryption_key_hex"`
	IPFSHash         string `json:"ipfs_hash"`
	IPFSURL          string `json:"ipfs_url"`
	SimulatedCID     bool   `json:"simulated_cid"`
	TxID             string `json:"tx_id,omitempty"`
	Block            uint64 `json:"block,omitempty"`
	StakeMicro       uint64 `json:"stake_amount_microalgos"`
	StakeTier        string `json:"stake_tier"`
	Status           string `json:"status"`
	OnChainError     string `json:"on_chain_error,omitempty"`
}

// Submit runs the full pipeline. Validation failures abort before anything
// is encrypted; a ledger failure after pinning does not, the record is kept
// with the error annotated.
func (s *Service) Submit(ctx context.Context, in Input) (*Receipt, error) {
	if len(in.Files) == 0 {
		return nil, &protocol.ValidationError{Msg: "at least one evidence file is required"}
	}
	category, err := protocol.ParseCategory(in.Category)
	if err != nil {
		return nil, err
	}
	if in.Organization == "" {
		return nil, &protocol.ValidationError{Msg: "organization is required"}
	}
	if err := stake.Validate(category, in.StakeMicro); err != nil {
		return nil, err
	}

	var submitter *wallet.Wallet
	var freshWallet bool
	if in.Mnemonic != "" {
		submitter, err = wallet.FromMnemonic(in.Mnemonic)
	} else {
		submitter, err = wallet.New()
		freshWallet = true
	}
	if err != nil {
		return nil, err
	}

	key, err := encryption.NewKey()
	if err != nil {
		return nil, err
	}
	bundle, err := encryption.Seal(in.Files, key)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("whistlechain_evidence_%d.json", time.Now().Unix())
	pin, err := s.pinner.Pin(ctx, bundle, filename)
	if err != nil {
		var depErr *protocol.DependencyError
		if !errors.As(err, &depErr) {
			return nil, err
		}
		pin = ipfs.Simulate(bundle)
		s.logger.Printf("Pin failed, using simulated identifier: %v", err)
	}

	now := time.Now()
	rec := &Record{
		WalletAddress: submitter.Address,
		StakeMicro:    in.StakeMicro,
		StakeTier:     stake.TierLabel(in.StakeMicro),
		Category:      category,
		Organization:  in.Organization,
		Description:   in.Description,
		IPFSHash:      pin.CID,
		IPFSURL:       ipfs.GatewayURL(pin.CID),
		SimulatedCID:  pin.Simulated,
		SubmittedAt:   now,
		Status:        protocol.StatusPending,
		StakeStatus:   stakeStatus(in.StakeMicro),
	}

	if s.chain != nil {
		result, err := s.chain.SubmitWithStake(ctx, submitter, pin.CID, category, in.Organization, in.Description, in.StakeMicro)
		if err != nil {
			rec.EvidenceID = s.localEvidenceID(now)
			rec.OnChainError = err.Error()
			s.logger.Printf("Anchoring failed for %s: %v", rec.EvidenceID, err)
		} else {
			rec.EvidenceID = result.EvidenceID
			rec.TxID = result.TxID
			rec.Block = result.ConfirmedRound
		}
	} else {
		rec.EvidenceID = s.localEvidenceID(now)
		rec.OnChainError = "ledger disabled: no registry application configured"
	}

	if err := s.store.Insert(rec); err != nil {
		return nil, err
	}

	s.logger.Printf("Evidence %s recorded (%s, %s tier, %d bytes sealed)",
		rec.EvidenceID, category, rec.StakeTier, len(bundle))

	receipt := &Receipt{
		EvidenceID:       rec.EvidenceID,
		WalletAddress:    submitter.Address,
		EncryptionKeyHex: encryption.KeyToHex(key),
		IPFSHash:         rec.IPFSHash,
		IPFSURL:          rec.IPFSURL,
		SimulatedCID:     rec.SimulatedCID,
		TxID:             rec.TxID,
		Block:            rec.Block,
		StakeMicro:       rec.StakeMicro,
		StakeTier:        rec.StakeTier,
		Status:           string(rec.Status),
		OnChainError:     rec.OnChainError,
	}
	if freshWallet {
		receipt.WalletMnemonic = submitter.Mnemonic
	}
	return receipt, nil
}

// Store exposes the record store for read-side consumers.
func (s *Service) Store() Store { return s.store }

func (s *Service) localEvidenceID(at time.Time) string {
	return ledger.FormatEvidenceID(s.localCounter.Add(1), at)
}

func stakeStatus(stakeMicro uint64) string {
	if stakeMicro == 0 {
		return "NONE"
	}
	return "LOCKED"
}
