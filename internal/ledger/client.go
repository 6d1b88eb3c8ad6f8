// Package ledger is the gateway to the evidence registry application on
// Algorand. It builds, signs and submits application calls, waits for
// confirmation, and reads box storage back out. Every other component talks
// to the chain through the Registry; nothing else imports the SDK clients.
package ledger

import (
	"context"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"

	"github.com/whistlechain/backend/internal/config"
)

// NewAlgodClient connects to the configured algod node. AlgoNode endpoints
// accept an empty token.
func NewAlgodClient(cfg *config.Config) (*algod.Client, error) {
	return algod.MakeClient(cfg.AlgodServer, cfg.AlgodToken)
}

// NodeStatus is a connectivity snapshot for the health endpoint.
type NodeStatus struct {
	LastRound   uint64 `json:"last_round"`
	LastVersion string `json:"last_version"`
	Network     string `json:"network"`
	CatchupTime uint64 `json:"catchup_time"`
}

// CheckConnection verifies algod is reachable and reports the node status.
func CheckConnection(ctx context.Context, client *algod.Client) (*NodeStatus, error) {
	status, err := client.Status().Do(ctx)
	if err != nil {
		return nil, err
	}
	return &NodeStatus{
		LastRound:   status.LastRound,
		LastVersion: status.LastVersion,
		Network:     "testnet",
		CatchupTime: status.CatchupTime,
	}, nil
}
