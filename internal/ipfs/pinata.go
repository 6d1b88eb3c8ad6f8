// Package ipfs pins encrypted evidence bundles through the Pinata pinning
// service. When Pinata is unreachable or unconfigured, callers fall back to
// a deterministic simulated identifier so the submission pipeline keeps
// moving; the evidence record tracks whether the identifier is real.
package ipfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/whistlechain/backend/internal/protocol"
)

const (
	pinFileURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	gatewayURL = "https://gateway.pinata.cloud/ipfs"
)

// PinResult is the outcome of a pin attempt.
type PinResult struct {
	CID       string `json:"cid"`
	PinSize   int64  `json:"pin_size"`
	Simulated bool   `json:"simulated"`
}

// Gateway talks to Pinata.
type Gateway struct {
	jwt        string
	httpClient *http.Client
	logger     *log.Logger
}

// NewGateway creates a Pinata gateway. An empty JWT is allowed; every Pin
// call will then fail with a DependencyError and callers use Simulate.
func NewGateway(jwt string) *Gateway {
	return &Gateway{
		jwt: jwt,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.New(log.Writer(), "[IPFS] ", log.LstdFlags),
	}
}

// Pin uploads data under filename and returns the content identifier.
func (g *Gateway) Pin(ctx context.Context, data []byte, filename string) (*PinResult, error) {
	if g.jwt == "" {
		return nil, &protocol.DependencyError{
			Dependency: "pinata",
			Err:        fmt.Errorf("PINATA_JWT not set"),
		}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}

	metadata, _ := json.Marshal(map[string]string{"name": filename})
	if err := writer.WriteField("pinataMetadata", string(metadata)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pinFileURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.jwt)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &protocol.DependencyError{Dependency: "pinata", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &protocol.DependencyError{
			Dependency: "pinata",
			Err:        fmt.Errorf("pin returned %d: %s", resp.StatusCode, raw),
		}
	}

	var parsed struct {
		IpfsHash string `json:"IpfsHash"`
		PinSize  int64  `json:"PinSize"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &protocol.DependencyError{Dependency: "pinata", Err: err}
	}

	g.logger.Printf("Pinned %s (%d bytes) -> %s", filename, len(data), parsed.IpfsHash)
	return &PinResult{CID: parsed.IpfsHash, PinSize: parsed.PinSize}, nil
}

// Simulate derives a deterministic stand-in identifier from the content.
// The prefix makes simulated identifiers recognizable at a glance.
func Simulate(data []byte) *PinResult {
	digest := sha256.Sum256(data)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:25])
	return &PinResult{
		CID:       "QmSim" + encoded,
		PinSize:   int64(len(data)),
		Simulated: true,
	}
}

// GatewayURL returns a public gateway URL for a content identifier.
func GatewayURL(cid string) string {
	return gatewayURL + "/" + cid
}
