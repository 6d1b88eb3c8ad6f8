package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/whistlechain/backend/internal/protocol"
)

// Box keys for the registry application. Every evidence item is addressed by
// its big-endian counter; per-inspector boxes append the raw 32-byte address.
//
//	EVD-<be64>          evidence record
//	VRF-<be64>          verification session
//	CMT-<be64><addr32>  inspector commit
//	RVL-<be64><addr32>  inspector reveal
//	AUD-<be64>          audit summary

const (
	evidencePrefix = "EVD-"
	sessionPrefix  = "VRF-"
	commitPrefix   = "CMT-"
	revealPrefix   = "RVL-"
	auditPrefix    = "AUD-"
)

// FormatEvidenceID renders the public identifier, e.g. EVD-2026-00042.
func FormatEvidenceID(counter uint64, at time.Time) string {
	return fmt.Sprintf("EVD-%d-%05d", at.Year(), counter)
}

// CounterFromEvidenceID extracts the box counter from a public identifier.
func CounterFromEvidenceID(evidenceID string) (uint64, error) {
	parts := strings.Split(evidenceID, "-")
	raw := parts[len(parts)-1]
	counter, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &protocol.ValidationError{Msg: "malformed evidence id: " + evidenceID}
	}
	return counter, nil
}

// EvidenceBoxKey builds the EVD- box key for an evidence identifier.
func EvidenceBoxKey(evidenceID string) ([]byte, error) {
	counter, err := CounterFromEvidenceID(evidenceID)
	if err != nil {
		return nil, err
	}
	return counterKey(evidencePrefix, counter), nil
}

// SessionBoxKey builds the VRF- box key.
func SessionBoxKey(evidenceID string) ([]byte, error) {
	counter, err := CounterFromEvidenceID(evidenceID)
	if err != nil {
		return nil, err
	}
	return counterKey(sessionPrefix, counter), nil
}

// AuditBoxKey builds the AUD- box key.
func AuditBoxKey(evidenceID string) ([]byte, error) {
	counter, err := CounterFromEvidenceID(evidenceID)
	if err != nil {
		return nil, err
	}
	return counterKey(auditPrefix, counter), nil
}

// CommitBoxKey builds the CMT- box key for one inspector.
func CommitBoxKey(evidenceID, inspectorAddr string) ([]byte, error) {
	return inspectorKey(commitPrefix, evidenceID, inspectorAddr)
}

// RevealBoxKey builds the RVL- box key for one inspector.
func RevealBoxKey(evidenceID, inspectorAddr string) ([]byte, error) {
	return inspectorKey(revealPrefix, evidenceID, inspectorAddr)
}

func counterKey(prefix string, counter uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	return binary.BigEndian.AppendUint64(key, counter)
}

func inspectorKey(prefix, evidenceID, inspectorAddr string) ([]byte, error) {
	counter, err := CounterFromEvidenceID(evidenceID)
	if err != nil {
		return nil, err
	}
	addr, err := types.DecodeAddress(inspectorAddr)
	if err != nil {
		return nil, &protocol.ValidationError{Msg: "malformed inspector address: " + inspectorAddr}
	}
	key := counterKey(prefix, counter)
	return append(key, addr[:]...), nil
}

// EvidenceBox is the decoded pipe-delimited evidence record.
//
// Layout: ipfs|category|org|desc|submitter(32B)|be64(ts)|be64(status)|stake|be64(stake_status)
type EvidenceBox struct {
	IPFSHash     string `json:"ipfs_hash"`
	Category     string `json:"category"`
	Organization string `json:"organization"`
	Description  string `json:"description"`
	Submitter    string `json:"submitter"`
	SubmittedAt  int64  `json:"submitted_at"`
	Status       uint64 `json:"status"`
	StakeMicro   uint64 `json:"stake_microalgos"`
	StakeStatus  uint64 `json:"stake_status"`
}

// ParseEvidenceBox decodes the raw box value. Boxes rewritten by later
// lifecycle calls hold a human-readable summary instead; those decode to an
// error and callers fall back to their off-chain record.
func ParseEvidenceBox(raw []byte) (*EvidenceBox, error) {
	parts := bytes.Split(raw, []byte("|"))
	if len(parts) < 9 {
		return nil, fmt.Errorf("evidence box has %d fields, want 9", len(parts))
	}

	box := &EvidenceBox{
		IPFSHash:     string(parts[0]),
		Category:     string(parts[1]),
		Organization: string(parts[2]),
		Description:  string(parts[3]),
	}

	if len(parts[4]) == 32 {
		var addr types.Address
		copy(addr[:], parts[4])
		box.Submitter = addr.String()
	}
	if len(parts[5]) == 8 {
		box.SubmittedAt = int64(binary.BigEndian.Uint64(parts[5]))
	}
	if len(parts[6]) == 8 {
		box.Status = binary.BigEndian.Uint64(parts[6])
	}
	if stake, err := strconv.ParseUint(strings.Trim(string(parts[7]), "\x00"), 10, 64); err == nil {
		box.StakeMicro = stake
	}
	if len(parts[8]) == 8 {
		box.StakeStatus = binary.BigEndian.Uint64(parts[8])
	}

	return box, nil
}

// CounterFromLogs scans application logs for the evidence_id entry emitted
// by the submit call. Returns 0 when absent.
func CounterFromLogs(logs [][]byte) uint64 {
	const tag = "evidence_id:"
	for _, entry := range logs {
		if len(entry) == len(tag)+8 && string(entry[:len(tag)]) == tag {
			return binary.BigEndian.Uint64(entry[len(tag):])
		}
	}
	return 0
}
