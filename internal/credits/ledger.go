package credits

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultPerPage        = 50
	DefaultWelcomeCredits = 1000

	maxUsageHistory    = 1000
	maxPurchaseHistory = 100
)

// ReasonInsufficient is the reason code carried by ledger denials.
const ReasonInsufficient = "insufficient_credits"

// ErrInsufficientCredits matches any *DeniedError via errors.Is.
var ErrInsufficientCredits = errors.New(ReasonInsufficient)

// ErrUnknownPackage is returned by Credit for an unrecognised package id.
var ErrUnknownPackage = errors.New("unknown credit package")

// DeniedError is returned when the balance cannot cover a request.
type DeniedError struct {
	Reason    string
	Pages     int
	Required  int64
	Available int64
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %d pages need %d credits, balance is %d", e.Reason, e.Pages, e.Required, e.Available)
}

func (e *DeniedError) Is(target error) bool { return target == ErrInsufficientCredits }

// Usage is one debit.
type Usage struct {
	Timestamp     time.Time `json:"timestamp"`
	Pages         int       `json:"pages"`
	CreditsUsed   int64     `json:"credits_used"`
	CreditPerPage int64     `json:"credit_per_page"`
	Filename      string    `json:"filename,omitempty"`
}

// Purchase is one top-up or administrative adjustment.
type Purchase struct {
	Timestamp     time.Time `json:"timestamp"`
	PackageID     string    `json:"package_id"`
	Price         int64     `json:"price"`
	CreditsAdded  int64     `json:"credits_added"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Account is the persisted ledger record.
type Account struct {
	Email               string     `json:"email"`
	Credits             int64      `json:"credits"`
	TotalCreditsUsed    int64      `json:"total_credits_used"`
	TotalPagesConverted int        `json:"total_pages_converted"`
	IsAdmin             bool       `json:"is_admin"`
	IsRegistered        bool       `json:"is_registered"`
	UsageHistory        []Usage    `json:"usage_history"`
	PurchaseHistory     []Purchase `json:"purchase_history"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Package is a purchasable credit bundle.
type Package struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Price   int64  `json:"price"`
	Credits int64  `json:"credits"`
	// Pages is how many recognised pages the bundle covers at the current price.
	Pages int64 `json:"pages"`
}

var packages = []Package{
	{ID: "basic", Label: "50,000", Price: 50000, Credits: 50000},
	{ID: "standard", Label: "100,000", Price: 100000, Credits: 100000},
	{ID: "premium", Label: "300,000", Price: 300000, Credits: 300000},
}

// Estimate is the answer to a credit check.
type Estimate struct {
	Authorized bool  `json:"authorized"`
	Pages      int   `json:"pages"`
	Cost       int64 `json:"cost_estimate"`
	Balance    int64 `json:"balance"`
	IsAdmin    bool  `json:"is_admin"`
}

// Err converts a denied estimate into a *DeniedError, or nil.
func (e Estimate) Err() error {
	if e.Authorized {
		return nil
	}
	return &DeniedError{Reason: ReasonInsufficient, Pages: e.Pages, Required: e.Cost, Available: e.Balance}
}

// Balance is a point-in-time view of the account.
type Balance struct {
	Email               string `json:"email"`
	Amount              int64  `json:"amount"`
	IsAdmin             bool   `json:"is_admin"`
	CreditPerPage       int64  `json:"credit_per_page"`
	PagesAvailable      int64  `json:"pages_available"`
	TotalCreditsUsed    int64  `json:"total_credits_used"`
	TotalPagesConverted int    `json:"total_pages_converted"`
}

// Options configures a Ledger.
type Options struct {
	Path           string
	AdminEmails    []string
	PerPage        int
	WelcomeCredits int
}

// Ledger is a file-backed, mutex-guarded usage balance for one identity.
// Every mutation rewrites the file before the lock is released.
type Ledger struct {
	mu      sync.Mutex
	path    string
	admins  map[string]bool
	perPage int64
	welcome int64
	acct    Account
	now     func() time.Time
}

// Open loads the ledger at opts.Path, starting fresh if the file is missing
// or unreadable.
func Open(opts Options) (*Ledger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("credits file path is required")
	}
	l := &Ledger{
		path:    opts.Path,
		admins:  map[string]bool{},
		perPage: int64(opts.PerPage),
		welcome: int64(opts.WelcomeCredits),
		now:     time.Now,
	}
	if l.perPage <= 0 {
		l.perPage = DefaultPerPage
	}
	if opts.WelcomeCredits < 0 {
		l.welcome = 0
	}
	for _, e := range opts.AdminEmails {
		if e = normalizeEmail(e); e != "" {
			l.admins[e] = true
		}
	}

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &l.acct); err != nil {
			log.Warn().Err(err).Str("path", l.path).Msg("credits file unreadable, starting fresh")
			l.acct = l.freshAccount()
		}
	case errors.Is(err, os.ErrNotExist):
		l.acct = l.freshAccount()
	default:
		return nil, fmt.Errorf("read credits file: %w", err)
	}
	// the allow-list is authoritative over the stored flag
	l.acct.IsAdmin = l.admins[normalizeEmail(l.acct.Email)]
	return l, nil
}

func (l *Ledger) freshAccount() Account {
	now := l.now()
	return Account{CreatedAt: now, UpdatedAt: now}
}

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

// PerPage is the unit price of one recognised page.
func (l *Ledger) PerPage() int64 { return l.perPage }

// Check authorizes work for the given page count without changing the balance.
func (l *Ledger) Check(pages int) Estimate {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acct.IsAdmin {
		return Estimate{Authorized: true, Pages: pages, IsAdmin: true, Balance: l.acct.Credits}
	}
	cost := int64(pages) * l.perPage
	return Estimate{
		Authorized: l.acct.Credits >= cost,
		Pages:      pages,
		Cost:       cost,
		Balance:    l.acct.Credits,
	}
}

// Debit charges for recognised pages and returns the amount deducted.
// Administrator accounts are never charged.
func (l *Ledger) Debit(pages int, filename string) (int64, error) {
	if pages <= 0 {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acct.IsAdmin {
		return 0, nil
	}
	cost := int64(pages) * l.perPage
	if l.acct.Credits < cost {
		return 0, &DeniedError{Reason: ReasonInsufficient, Pages: pages, Required: cost, Available: l.acct.Credits}
	}

	prev := l.acct
	l.acct.Credits -= cost
	l.acct.TotalCreditsUsed += cost
	l.acct.TotalPagesConverted += pages
	l.acct.UsageHistory = appendCapped(l.acct.UsageHistory, Usage{
		Timestamp:     l.now(),
		Pages:         pages,
		CreditsUsed:   cost,
		CreditPerPage: l.perPage,
		Filename:      filename,
	}, maxUsageHistory)
	if err := l.saveLocked(); err != nil {
		l.acct = prev
		return 0, err
	}
	log.Info().Str("file", filename).Int("pages", pages).Int64("debited", cost).Int64("balance", l.acct.Credits).Msg("credits debited")
	return cost, nil
}

// Credit tops up the balance with a named package.
func (l *Ledger) Credit(packageID, transactionID string) (Purchase, error) {
	var pkg *Package
	for i := range packages {
		if packages[i].ID == packageID {
			pkg = &packages[i]
			break
		}
	}
	if pkg == nil {
		return Purchase{}, fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if transactionID == "" {
		transactionID = "manual_" + now.Format("20060102150405")
	}
	p := Purchase{
		Timestamp:     now,
		PackageID:     pkg.ID,
		Price:         pkg.Price,
		CreditsAdded:  pkg.Credits,
		TransactionID: transactionID,
	}
	prev := l.acct
	l.acct.Credits += pkg.Credits
	l.acct.PurchaseHistory = appendCapped(l.acct.PurchaseHistory, p, maxPurchaseHistory)
	if err := l.saveLocked(); err != nil {
		l.acct = prev
		return Purchase{}, err
	}
	return p, nil
}

// AdminAdjust adds (or with a negative amount removes) credits outside of a
// purchase. The balance never goes below zero.
func (l *Ledger) AdminAdjust(amount int64, reason string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.acct
	before := l.acct.Credits
	l.acct.Credits += amount
	if l.acct.Credits < 0 {
		l.acct.Credits = 0
	}
	l.acct.PurchaseHistory = appendCapped(l.acct.PurchaseHistory, Purchase{
		Timestamp:    l.now(),
		PackageID:    "admin_adjust",
		CreditsAdded: l.acct.Credits - before,
		Reason:       reason,
	}, maxPurchaseHistory)
	if err := l.saveLocked(); err != nil {
		l.acct = prev
		return Balance{}, err
	}
	return l.balanceLocked(), nil
}

// SetEmail identifies the account holder. Administrator status follows the
// allow-list; a first-time non-admin identity receives the welcome credits.
func (l *Ledger) SetEmail(email string) (Balance, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Balance{}, fmt.Errorf("email is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.acct
	l.acct.Email = email
	l.acct.IsAdmin = l.admins[email]
	if !l.acct.IsAdmin && !l.acct.IsRegistered {
		if l.acct.Credits == 0 {
			l.acct.Credits = l.welcome
		}
		l.acct.IsRegistered = true
	}
	if err := l.saveLocked(); err != nil {
		l.acct = prev
		return Balance{}, err
	}
	return l.balanceLocked(), nil
}

// Balance reports the current amount and admin flag.
func (l *Ledger) Balance() Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked()
}

func (l *Ledger) balanceLocked() Balance {
	b := Balance{
		Email:               l.acct.Email,
		Amount:              l.acct.Credits,
		IsAdmin:             l.acct.IsAdmin,
		CreditPerPage:       l.perPage,
		TotalCreditsUsed:    l.acct.TotalCreditsUsed,
		TotalPagesConverted: l.acct.TotalPagesConverted,
	}
	if l.acct.IsAdmin {
		b.PagesAvailable = -1
	} else {
		b.PagesAvailable = l.acct.Credits / l.perPage
	}
	return b
}

// Packages lists purchasable bundles priced at the ledger's page rate.
func (l *Ledger) Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	for i := range out {
		out[i].Pages = out[i].Credits / l.perPage
	}
	return out
}

// UsageHistory returns up to limit most recent debits, oldest first.
func (l *Ledger) UsageHistory(limit int) []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.acct.UsageHistory, limit)
}

// PurchaseHistory returns up to limit most recent top-ups, oldest first.
func (l *Ledger) PurchaseHistory(limit int) []Purchase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.acct.PurchaseHistory, limit)
}

func (l *Ledger) saveLocked() error {
	l.acct.UpdatedAt = l.now()
	data, err := json.MarshalIndent(l.acct, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credits: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create credits dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credits: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace credits file: %w", err)
	}
	return nil
}

func appendCapped[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = append([]T(nil), s[len(s)-max:]...)
	}
	return s
}

func tail[T any](s []T, limit int) []T {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	out := make([]T, limit)
	copy(out, s[len(s)-limit:])
	return out
}
