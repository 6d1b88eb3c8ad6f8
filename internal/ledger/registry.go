package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/whistlechain/backend/internal/protocol"
	"github.com/whistlechain/backend/internal/wallet"
)

const confirmationRounds = 10

// Registry submits application calls against the deployed evidence registry.
// Coordinator-side calls (begin, finalize, resolve, publish) are signed by
// the operator wallet; submitter and inspector calls are signed by the
// caller's own wallet.
type Registry struct {
	client *algod.Client
	appID  uint64
	admin  *wallet.Wallet
	logger *slog.Logger
}

// NewRegistry wraps an algod client and the deployed application.
func NewRegistry(client *algod.Client, appID uint64, admin *wallet.Wallet) *Registry {
	return &Registry{
		client: client,
		appID:  appID,
		admin:  admin,
		logger: slog.Default().With("component", "ledger"),
	}
}

// AppID returns the registry application id.
func (r *Registry) AppID() uint64 { return r.appID }

// AppAddress returns the application escrow address holding locked stakes.
func (r *Registry) AppAddress() string {
	return crypto.GetApplicationAddress(r.appID).String()
}

// SubmitResult is the confirmed outcome of an evidence submission.
type SubmitResult struct {
	TxID           string `json:"tx_id"`
	ConfirmedRound uint64 `json:"block"`
	Counter        uint64 `json:"counter"`
	EvidenceID     string `json:"evidence_id"`
}

// SubmitWithStake anchors a new evidence record. When stakeMicro is positive
// the submission is a two-transaction group: the stake payment into the app
// escrow, then the application call. Free tier sends the call alone.
func (r *Registry) SubmitWithStake(
	ctx context.Context,
	submitter *wallet.Wallet,
	ipfsHash string,
	category protocol.Category,
	organization, description string,
	stakeMicro uint64,
) (*SubmitResult, error) {
	sp, err := r.client.SuggestedParams().Do(ctx)
	if err != nil {
		return nil, &protocol.LedgerError{Op: "suggested_params", Err: err}
	}

	sender, err := types.DecodeAddress(submitter.Address)
	if err != nil {
		return nil, &protocol.ValidationError{Msg: "malformed submitter address"}
	}

	appArgs := [][]byte{
		[]byte("submit_evidence"),
		[]byte(ipfsHash),
		[]byte(category),
		truncate([]byte(organization), 64),
		truncate([]byte(description), 128),
		[]byte(fmt.Sprintf("%d", stakeMicro)),
	}
	// The counter is unknown before the call; the program resolves the box
	// itself and this reference only grants quota.
	boxRefs := []types.AppBoxReference{
		{AppID: r.appID, Name: counterKey(evidencePrefix, 0)},
	}

	appCall, err := transaction.MakeApplicationNoOpTxWithBoxes(
		r.appID, appArgs, nil, nil, nil, boxRefs,
		sp, sender, nil, types.Digest{}, [32]byte{}, types.ZeroAddress,
	)
	if err != nil {
		return nil, &protocol.LedgerError{Op: "submit_evidence", Err: err}
	}

	var signed [][]byte
	var txID string

	if stakeMicro > 0 {
		payment, err := transaction.MakePaymentTxn(
			submitter.Address, r.AppAddress(), stakeMicro, nil, "", sp,
		)
		if err != nil {
			return nil, &protocol.LedgerError{Op: "stake_payment", Err: err}
		}

		group, err := transaction.AssignGroupID([]types.Transaction{payment, appCall}, "")
		if err != nil {
			return nil, &protocol.LedgerError{Op: "group", Err: err}
		}
		for _, txn := range group {
			id, stx, err := crypto.SignTransaction(submitter.PrivateKey, txn)
			if err != nil {
				return nil, &protocol.LedgerError{Op: "sign", Err: err}
			}
			signed = append(signed, stx)
			txID = id
		}
	} else {
		id, stx, err := crypto.SignTransaction(submitter.PrivateKey, appCall)
		if err != nil {
			return nil, &protocol.LedgerError{Op: "sign", Err: err}
		}
		signed = append(signed, stx)
		txID = id
	}

	raw := signed[0]
	for _, stx := range signed[1:] {
		raw = append(raw, stx...)
	}
	if _, err := r.client.SendRawTransaction(raw).Do(ctx); err != nil {
		return nil, &protocol.LedgerError{Op: "submit_evidence", Err: err}
	}

	confirmed, err := transaction.WaitForConfirmation(r.client, txID, confirmationRounds, ctx)
	if err != nil {
		return nil, &protocol.LedgerError{Op: "submit_evidence confirmation", Err: err}
	}

	counter := CounterFromLogs(confirmed.Logs)
	if counter == 0 {
		counter = 1
	}
	result := &SubmitResult{
		TxID:           txID,
		ConfirmedRound: confirmed.ConfirmedRound,
		Counter:        counter,
		EvidenceID:     FormatEvidenceID(counter, time.Now()),
	}

	r.logger.Info("evidence anchored",
		"evidence_id", result.EvidenceID,
		"tx_id", txID,
		"block", confirmed.ConfirmedRound,
		"stake_microalgos", stakeMicro)
	return result, nil
}

// BeginVerification opens the on-chain verification session.
func (r *Registry) BeginVerification(ctx context.Context, evidenceID string, windowEnd int64, numInspectors int) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	vrfKey, err := SessionBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	return r.adminCall(ctx, "begin_verification",
		[][]byte{
			[]byte("begin_verification"),
			evdKey,
			be64(uint64(windowEnd)),
			be64(uint64(numInspectors)),
		},
		[]types.AppBoxReference{
			{AppID: r.appID, Name: evdKey},
			{AppID: r.appID, Name: vrfKey},
		},
		nil,
	)
}

// CommitVerdict records an inspector's sealed commitment. The hash is the
// hex SHA-256 of the verdict and nonce; it is stored as raw bytes.
func (r *Registry) CommitVerdict(ctx context.Context, inspector *wallet.Wallet, evidenceID, commitHash string) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	cmtKey, err := CommitBoxKey(evidenceID, inspector.Address)
	if err != nil {
		return "", err
	}
	commitBytes, err := hex.DecodeString(commitHash)
	if err != nil {
		return "", &protocol.ValidationError{Msg: "commit hash must be hex"}
	}
	return r.call(ctx, "commit_verdict", inspector,
		[][]byte{[]byte("commit_verdict"), evdKey, commitBytes},
		[]types.AppBoxReference{
			{AppID: r.appID, Name: evdKey},
			{AppID: r.appID, Name: cmtKey},
		},
		nil,
	)
}

// RevealVerdict opens an inspector's commitment on-chain. The program
// recomputes the hash and rejects a mismatch.
func (r *Registry) RevealVerdict(
	ctx context.Context,
	inspector *wallet.Wallet,
	evidenceID string,
	verdict protocol.Verdict,
	nonce, justificationCID string,
) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	cmtKey, err := CommitBoxKey(evidenceID, inspector.Address)
	if err != nil {
		return "", err
	}
	rvlKey, err := RevealBoxKey(evidenceID, inspector.Address)
	if err != nil {
		return "", err
	}
	return r.call(ctx, "reveal_verdict", inspector,
		[][]byte{
			[]byte("reveal_verdict"),
			evdKey,
			be64(uint64(verdict)),
			[]byte(nonce),
			[]byte(justificationCID),
		},
		[]types.AppBoxReference{
			{AppID: r.appID, Name: evdKey},
			{AppID: r.appID, Name: cmtKey},
			{AppID: r.appID, Name: rvlKey},
		},
		nil,
	)
}

// FinalizeVerification records the consensus outcome.
func (r *Registry) FinalizeVerification(ctx context.Context, evidenceID string, finalStatus protocol.Status) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	return r.adminCall(ctx, "finalize_verification",
		[][]byte{
			[]byte("finalize_verification"),
			evdKey,
			[]byte(finalStatus),
			[]byte(finalStatus),
		},
		[]types.AppBoxReference{{AppID: r.appID, Name: evdKey}},
		nil,
	)
}

// ResolveEvidence settles the stake. The program moves funds in an inner
// transaction, so the outer fee covers both.
func (r *Registry) ResolveEvidence(
	ctx context.Context,
	evidenceID string,
	statusCode uint64,
	refundAddr string,
	stakeMicro uint64,
	updatedBlob []byte,
) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	refund, err := types.DecodeAddress(refundAddr)
	if err != nil {
		return "", &protocol.ValidationError{Msg: "malformed refund address: " + refundAddr}
	}
	return r.adminCall(ctx, "resolve_evidence",
		[][]byte{
			[]byte("resolve_evidence"),
			evdKey,
			be64(statusCode),
			refund[:],
			be64(stakeMicro),
			updatedBlob,
		},
		[]types.AppBoxReference{{AppID: r.appID, Name: evdKey}},
		// Flat 2000 covers the outer call plus the inner stake transfer.
		func(sp *types.SuggestedParams) {
			sp.FlatFee = true
			sp.Fee = 2000
		},
	)
}

// PublishEvidence marks the record PUBLISHED and writes the permanent audit
// box.
func (r *Registry) PublishEvidence(ctx context.Context, evidenceID string, updatedBlob, auditSummary []byte) (string, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	audKey, err := AuditBoxKey(evidenceID)
	if err != nil {
		return "", err
	}
	return r.adminCall(ctx, "publish_evidence",
		[][]byte{
			[]byte("publish_evidence"),
			evdKey,
			updatedBlob,
			auditSummary,
		},
		[]types.AppBoxReference{
			{AppID: r.appID, Name: evdKey},
			{AppID: r.appID, Name: audKey},
		},
		nil,
	)
}

// ReadEvidenceBox fetches and decodes the evidence record from box storage.
func (r *Registry) ReadEvidenceBox(ctx context.Context, evidenceID string) (*EvidenceBox, error) {
	evdKey, err := EvidenceBoxKey(evidenceID)
	if err != nil {
		return nil, err
	}
	box, err := r.client.GetApplicationBoxByName(r.appID, evdKey).Do(ctx)
	if err != nil {
		return nil, &protocol.LedgerError{Op: "read_box", Err: err}
	}
	return ParseEvidenceBox(box.Value)
}

// Disburse sends a treasury payment from the operator wallet, used for
// bounty top-ups that the registry's inner transfer did not cover. The note
// ties the payment to its evidence record.
func (r *Registry) Disburse(ctx context.Context, to string, amountMicro uint64, evidenceID string) (string, error) {
	if r.admin == nil {
		return "", &protocol.LedgerError{Op: "disburse", Err: fmt.Errorf("no operator signer configured")}
	}
	sp, err := r.client.SuggestedParams().Do(ctx)
	if err != nil {
		return "", &protocol.LedgerError{Op: "disburse", Err: err}
	}

	note := []byte("whistlechain-bounty:" + evidenceID)
	payment, err := transaction.MakePaymentTxn(r.admin.Address, to, amountMicro, note, "", sp)
	if err != nil {
		return "", &protocol.LedgerError{Op: "disburse", Err: err}
	}

	txID, stx, err := crypto.SignTransaction(r.admin.PrivateKey, payment)
	if err != nil {
		return "", &protocol.LedgerError{Op: "disburse", Err: err}
	}
	if _, err := r.client.SendRawTransaction(stx).Do(ctx); err != nil {
		return "", &protocol.LedgerError{Op: "disburse", Err: err}
	}
	if _, err := transaction.WaitForConfirmation(r.client, txID, confirmationRounds, ctx); err != nil {
		return "", &protocol.LedgerError{Op: "disburse confirmation", Err: err}
	}

	r.logger.Info("bounty disbursed",
		"evidence_id", evidenceID,
		"to", to,
		"amount_microalgos", amountMicro,
		"tx_id", txID)
	return txID, nil
}

// AppBalance returns the microAlgo balance of the application escrow.
func (r *Registry) AppBalance(ctx context.Context) (uint64, error) {
	info, err := r.client.AccountInformation(r.AppAddress()).Do(ctx)
	if err != nil {
		return 0, &protocol.LedgerError{Op: "account_information", Err: err}
	}
	return info.Amount, nil
}

// ============================================================================
// CALL PLUMBING
// ============================================================================

func (r *Registry) adminCall(
	ctx context.Context,
	op string,
	appArgs [][]byte,
	boxRefs []types.AppBoxReference,
	tweak func(*types.SuggestedParams),
) (string, error) {
	if r.admin == nil {
		return "", &protocol.LedgerError{Op: op, Err: fmt.Errorf("no operator signer configured")}
	}
	return r.call(ctx, op, r.admin, appArgs, boxRefs, tweak)
}

func (r *Registry) call(
	ctx context.Context,
	op string,
	signer *wallet.Wallet,
	appArgs [][]byte,
	boxRefs []types.AppBoxReference,
	tweak func(*types.SuggestedParams),
) (string, error) {
	sp, err := r.client.SuggestedParams().Do(ctx)
	if err != nil {
		return "", &protocol.LedgerError{Op: op, Err: err}
	}
	if tweak != nil {
		tweak(&sp)
	}

	sender, err := types.DecodeAddress(signer.Address)
	if err != nil {
		return "", &protocol.ValidationError{Msg: "malformed signer address"}
	}

	txn, err := transaction.MakeApplicationNoOpTxWithBoxes(
		r.appID, appArgs, nil, nil, nil, boxRefs,
		sp, sender, nil, types.Digest{}, [32]byte{}, types.ZeroAddress,
	)
	if err != nil {
		return "", &protocol.LedgerError{Op: op, Err: err}
	}

	txID, stx, err := crypto.SignTransaction(signer.PrivateKey, txn)
	if err != nil {
		return "", &protocol.LedgerError{Op: op, Err: err}
	}
	if _, err := r.client.SendRawTransaction(stx).Do(ctx); err != nil {
		return "", &protocol.LedgerError{Op: op, Err: err}
	}
	if _, err := transaction.WaitForConfirmation(r.client, txID, confirmationRounds, ctx); err != nil {
		return "", &protocol.LedgerError{Op: op + " confirmation", Err: err}
	}

	r.logger.Info("application call confirmed", "op", op, "tx_id", txID)
	return txID, nil
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func truncate(b []byte, max int) []byte {
	if len(b) > max {
		return b[:max]
	}
	return b
}
