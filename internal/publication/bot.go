// Package publication fans verified evidence out to multiple channels at
// once: a microblog post, a broadcast channel, email notifications to media
// and government contacts, and an auto-filed RTI request. Simultaneous
// publication is the censorship resistance: the record cannot be removed
// from every channel at once.
//
// Deliveries are simulated records of what each channel would carry; wiring
// real platform credentials swaps the builders, not the bot.
package publication

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/whistlechain/backend/internal/ipfs"
	"github.com/whistlechain/backend/internal/protocol"
)

// Contact is one notification recipient.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"type"` // "media" or "government"
}

var mediaContacts = []Contact{
	{Name: "The Hindu", Email: "investigations@thehindu.co.in", Type: "media"},
	{Name: "Times of India", Email: "newsdesk@timesofindia.com", Type: "media"},
	{Name: "NDTV", Email: "newsdesk@ndtv.com", Type: "media"},
}

var governmentContacts = []Contact{
	{Name: "Central Vigilance Commission", Email: "cvc@nic.in", Type: "government"},
	{Name: "CBI Complaints", Email: "complaint@cbi.gov.in", Type: "government"},
}

var categoryContacts = map[protocol.Category][]Contact{
	protocol.CategoryFinancial: {
		{Name: "Income Tax Dept", Email: "complaints@incometax.gov.in", Type: "government"},
	},
	protocol.CategoryConstruction: {
		{Name: "PWD Department", Email: "pwddept@gov.in", Type: "government"},
		{Name: "MoHUA Ministry", Email: "mohua@gov.in", Type: "government"},
	},
	protocol.CategoryFood: {
		{Name: "FSSAI", Email: "complaints@fssai.gov.in", Type: "government"},
	},
	protocol.CategoryAcademic: {
		{Name: "UGC", Email: "complaints@ugc.ac.in", Type: "government"},
	},
}

// ContactsFor returns the base contact set plus the category-specific ones.
func ContactsFor(cat protocol.Category) []Contact {
	contacts := make([]Contact, 0, len(mediaContacts)+len(governmentContacts)+2)
	contacts = append(contacts, mediaContacts...)
	contacts = append(contacts, governmentContacts...)
	contacts = append(contacts, categoryContacts[cat]...)
	return contacts
}

// EmailNotice is one sent notification.
type EmailNotice struct {
	Recipient string    `json:"recipient"`
	Email     string    `json:"email"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// RTIFiling is an auto-filed right-to-information request.
type RTIFiling struct {
	Reference    string            `json:"reference"`
	FiledAt      time.Time         `json:"filed_at"`
	Status       string            `json:"status"`
	Category     protocol.Category `json:"category"`
	Organization string            `json:"organization"`
	Description  string            `json:"description"`
	Platform     string            `json:"platform"`
	Note         string            `json:"note"`
}

// Channels holds the per-channel delivery records.
type Channels struct {
	Microblog struct {
		Status string `json:"status"`
		Handle string `json:"handle"`
		Post   string `json:"post"`
	} `json:"microblog"`
	Broadcast struct {
		Status  string `json:"status"`
		Channel string `json:"channel"`
		Post    string `json:"post"`
	} `json:"broadcast"`
	Email struct {
		Status     string        `json:"status"`
		Recipients []EmailNotice `json:"recipients"`
		TotalSent  int           `json:"total_sent"`
	} `json:"email"`
	RTI struct {
		Status    string    `json:"status"`
		Reference string    `json:"reference"`
		Details   RTIFiling `json:"details"`
	} `json:"rti"`
}

// PublicationSummary counts the fan-out.
type PublicationSummary struct {
	PlatformsReached    int    `json:"platforms_reached"`
	MediaNotified       int    `json:"media_houses_notified"`
	GovernmentNotified  int    `json:"government_agencies_notified"`
	CensorshipResistant bool   `json:"censorship_resistant"`
	Message             string `json:"message"`
}

// Publication is the complete fan-out record for one evidence item.
type Publication struct {
	EvidenceID   string             `json:"evidence_id"`
	Category     protocol.Category  `json:"category"`
	Organization string             `json:"organization"`
	PublishedAt  time.Time          `json:"published_at"`
	Status       string             `json:"status"`
	Channels     Channels           `json:"platforms"`
	IPFSHash     string             `json:"ipfs_hash"`
	IPFSURL      string             `json:"ipfs_url"`
	EvidenceTx   string             `json:"evidence_tx,omitempty"`
	Summary      PublicationSummary `json:"summary"`
}

// Scheduled is one queued delayed publication.
type Scheduled struct {
	EvidenceID     string            `json:"evidence_id"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	PublishAt      time.Time         `json:"publish_at"`
	Delay          time.Duration     `json:"-"`
	DelayHours     float64           `json:"delay_hours"`
	Status         string            `json:"status"`
	Category       protocol.Category `json:"category"`
	Organization   string            `json:"organization"`
	Description    string            `json:"description"`
	IPFSHash       string            `json:"ipfs_hash"`
	CanCancelUntil time.Time         `json:"can_cancel_until"`
}

// Input describes the evidence to publish.
type Input struct {
	EvidenceID   string
	Category     protocol.Category
	Organization string
	Description  string
	IPFSHash     string
	Verdict      string
	TxID         string
	Block        uint64
}

// Bot publishes to every channel and manages the delayed-publication queue.
type Bot struct {
	mu      sync.RWMutex
	records map[string]*Publication
	queue   []*Scheduled
	logger  *log.Logger
	now     func() time.Time
}

// NewBot creates the publication bot.
func NewBot() *Bot {
	return &Bot{
		records: make(map[string]*Publication),
		logger:  log.New(log.Writer(), "[PUBLISH] ", log.LstdFlags),
		now:     time.Now,
	}
}

// PublishAll fans the evidence out to every channel at once. Only VERIFIED
// evidence is published; publishing twice is refused.
func (b *Bot) PublishAll(in Input) (*Publication, error) {
	if in.Verdict != string(protocol.StatusVerified) {
		return nil, &protocol.StateError{Msg: fmt.Sprintf(
			"only VERIFIED evidence is published, %s is %s", in.EvidenceID, in.Verdict)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.records[in.EvidenceID]; done {
		return nil, &protocol.StateError{Msg: "evidence " + in.EvidenceID + " already published"}
	}

	now := b.now()
	ipfsURL := ipfs.GatewayURL(in.IPFSHash)
	contacts := ContactsFor(in.Category)

	pub := &Publication{
		EvidenceID:   in.EvidenceID,
		Category:     in.Category,
		Organization: in.Organization,
		PublishedAt:  now,
		Status:       string(protocol.StatusPublished),
		IPFSHash:     in.IPFSHash,
		IPFSURL:      ipfsURL,
		EvidenceTx:   in.TxID,
	}

	pub.Channels.Microblog.Status = "posted"
	pub.Channels.Microblog.Handle = "@WhistleChainIndia"
	pub.Channels.Microblog.Post = buildMicroblogPost(in, now)

	pub.Channels.Broadcast.Status = "posted"
	pub.Channels.Broadcast.Channel = "WhistleChain India (50,000 subscribers)"
	pub.Channels.Broadcast.Post = buildBroadcastPost(in, ipfsURL, now)

	pub.Channels.Email.Status = "sent"
	pub.Channels.Email.Recipients = buildEmailNotices(in, contacts, now)
	pub.Channels.Email.TotalSent = len(contacts)

	filing := buildRTIFiling(in, now)
	pub.Channels.RTI.Status = "filed"
	pub.Channels.RTI.Reference = filing.Reference
	pub.Channels.RTI.Details = filing

	media, gov := 0, 0
	for _, c := range contacts {
		if c.Type == "media" {
			media++
		} else {
			gov++
		}
	}
	pub.Summary = PublicationSummary{
		PlatformsReached:    4,
		MediaNotified:       media,
		GovernmentNotified:  gov,
		CensorshipResistant: true,
		Message: fmt.Sprintf(
			"Evidence %s published to 4 platforms, %d media houses and %d government agencies simultaneously. It cannot be removed from all of them at once.",
			in.EvidenceID, media, gov),
	}

	b.records[in.EvidenceID] = pub
	b.logger.Printf("Evidence %s fanned out to 4 channels (%d recipients)", in.EvidenceID, len(contacts))

	clone := *pub
	return &clone, nil
}

// Schedule queues evidence for delayed auto-publication. The delay is the
// challenge window for physical-evidence submissions.
func (b *Bot) Schedule(in Input, delay time.Duration) *Scheduled {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	item := &Scheduled{
		EvidenceID:     in.EvidenceID,
		ScheduledAt:    now,
		PublishAt:      now.Add(delay),
		Delay:          delay,
		DelayHours:     delay.Hours(),
		Status:         "SCHEDULED",
		Category:       in.Category,
		Organization:   in.Organization,
		Description:    in.Description,
		IPFSHash:       in.IPFSHash,
		CanCancelUntil: now.Add(delay),
	}
	b.queue = append(b.queue, item)
	return item
}

// Cancel withdraws a scheduled publication. Cancellation after the challenge
// window has passed is refused: due items publish regardless.
func (b *Bot) Cancel(evidenceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, item := range b.queue {
		if item.EvidenceID != evidenceID || item.Status != "SCHEDULED" {
			continue
		}
		if !b.now().Before(item.CanCancelUntil) {
			return &protocol.StateError{Msg: "challenge window expired, cannot cancel"}
		}
		item.Status = "CANCELLED"
		return nil
	}
	return &protocol.NotFoundError{Kind: "scheduled publication", ID: evidenceID}
}

// Due returns every scheduled item past its publish time.
func (b *Bot) Due() []*Scheduled {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.now()
	var due []*Scheduled
	for _, item := range b.queue {
		if item.Status == "SCHEDULED" && !now.Before(item.PublishAt) {
			clone := *item
			due = append(due, &clone)
		}
	}
	return due
}

// Publication returns the fan-out record for one evidence item.
func (b *Bot) Publication(evidenceID string) (*Publication, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pub, ok := b.records[evidenceID]
	if !ok {
		return nil, &protocol.NotFoundError{Kind: "publication", ID: evidenceID}
	}
	clone := *pub
	return &clone, nil
}

// All returns every fan-out record.
func (b *Bot) All() []*Publication {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Publication, 0, len(b.records))
	for _, pub := range b.records {
		clone := *pub
		out = append(out, &clone)
	}
	return out
}

// Queue returns the scheduled items.
func (b *Bot) Queue() []*Scheduled {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Scheduled, 0, len(b.queue))
	for _, item := range b.queue {
		clone := *item
		out = append(out, &clone)
	}
	return out
}

// Stats summarizes publication activity.
type Stats struct {
	TotalPublished        int  `json:"total_published"`
	ScheduledPending      int  `json:"scheduled_pending"`
	Cancelled             int  `json:"cancelled"`
	TotalPlatformsReached int  `json:"total_platforms_reached"`
	CensorshipResistant   bool `json:"censorship_resistant"`
}

// Stats aggregates over records and the queue.
func (b *Bot) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		TotalPublished:        len(b.records),
		TotalPlatformsReached: len(b.records) * 4,
		CensorshipResistant:   true,
	}
	for _, item := range b.queue {
		switch item.Status {
		case "SCHEDULED":
			s.ScheduledPending++
		case "CANCELLED":
			s.Cancelled++
		}
	}
	return s
}

// ============================================================================
// CHANNEL BUILDERS
// ============================================================================

var categoryLabels = map[protocol.Category]string{
	protocol.CategoryFinancial:    "Financial Fraud",
	protocol.CategoryConstruction: "Construction Violation",
	protocol.CategoryFood:         "Food Safety Violation",
	protocol.CategoryAcademic:     "Academic Fraud",
}

func buildMicroblogPost(in Input, at time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FRAUD DETECTED - %s\n\n", in.EvidenceID)
	fmt.Fprintf(&sb, "%s\n", categoryLabels[in.Category])
	fmt.Fprintf(&sb, "Organization: %s\n", in.Organization)
	fmt.Fprintf(&sb, "Published: %s\n", at.Format("02 Jan 2006 15:04 MST"))
	fmt.Fprintf(&sb, "Evidence: ipfs.io/ipfs/%s\n\n", in.IPFSHash)
	sb.WriteString("Verified by Algorand Smart Contract\n")
	if in.Block > 0 {
		fmt.Fprintf(&sb, "Block: #%d\n", in.Block)
	}
	sb.WriteString("#Corruption #WhistleChain #India")
	return sb.String()
}

func buildBroadcastPost(in Input, ipfsURL string, at time.Time) string {
	desc := in.Description
	if len(desc) > 200 {
		desc = desc[:200] + "..."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*FRAUD DETECTED - %s*\n\n", in.EvidenceID)
	fmt.Fprintf(&sb, "*Category:* %s\n", in.Category)
	fmt.Fprintf(&sb, "*Organization:* %s\n", in.Organization)
	fmt.Fprintf(&sb, "*Details:* %s\n", desc)
	fmt.Fprintf(&sb, "*Published:* %s\n\n", at.Format("02 Jan 2006 15:04 MST"))
	fmt.Fprintf(&sb, "[View Evidence on IPFS](%s)\n\n", ipfsURL)
	sb.WriteString("_Verified by Algorand Smart Contract_\n_Cannot be deleted or censored_")
	return sb.String()
}

func buildEmailNotices(in Input, contacts []Contact, at time.Time) []EmailNotice {
	notices := make([]EmailNotice, 0, len(contacts))
	for _, c := range contacts {
		notices = append(notices, EmailNotice{
			Recipient: c.Name,
			Email:     c.Email,
			Type:      c.Type,
			Subject:   fmt.Sprintf("[WhistleChain] Evidence Submission - %s - %s", in.EvidenceID, in.Organization),
			Status:    "sent",
			SentAt:    at,
		})
	}
	return notices
}

func buildRTIFiling(in Input, at time.Time) RTIFiling {
	parts := strings.Split(in.EvidenceID, "-")
	counter := parts[len(parts)-1]
	desc := in.Description
	if len(desc) > 500 {
		desc = desc[:500]
	}
	return RTIFiling{
		Reference:    fmt.Sprintf("RTI/%d/WC/%s", at.Year(), counter),
		FiledAt:      at,
		Status:       "filed",
		Category:     in.Category,
		Organization: in.Organization,
		Description:  desc,
		Platform:     "RTI Portal (auto-filed)",
		Note:         "Auto-filed RTI on behalf of the anonymous submitter. The reference number is stored on the blockchain.",
	}
}
