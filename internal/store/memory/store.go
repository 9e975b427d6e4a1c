// Package memory provides in-process implementations of the domain stores.
// They back unit tests and the dev mode; the postgres package is the
// production counterpart and shares the same contracts, including the
// compare-and-set semantics of ApplyBid.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// Store bundles every domain store over one shared mutex, so ApplyBid can
// write the price and append the bid row under a single critical section.
type Store struct {
	mu          sync.RWMutex
	auctions    map[string]domain.Auction
	bids        map[string][]domain.Bid // auctionID -> accepted order
	ceilings    map[string]map[string]domain.ProxyCeiling
	settlements map[string]domain.Settlement
	audit       []domain.AuditEntry
	seq         int64
	auditSeq    int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		auctions:    make(map[string]domain.Auction),
		bids:        make(map[string][]domain.Bid),
		ceilings:    make(map[string]map[string]domain.ProxyCeiling),
		settlements: make(map[string]domain.Settlement),
	}
}

// Auctions returns the AuctionStore view.
func (s *Store) Auctions() domain.AuctionStore { return (*auctionStore)(s) }

// Bids returns the BidStore view.
func (s *Store) Bids() domain.BidStore { return (*bidStore)(s) }

// Ceilings returns the CeilingStore view.
func (s *Store) Ceilings() domain.CeilingStore { return (*ceilingStore)(s) }

// Settlements returns the SettlementStore view.
func (s *Store) Settlements() domain.SettlementStore { return (*settlementStore)(s) }

// Audit returns the AuditStore view.
func (s *Store) Audit() domain.AuditStore { return (*auditStore)(s) }

type auctionStore Store

var _ domain.AuctionStore = (*auctionStore)(nil)

func (s *auctionStore) Create(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.auctions[a.ID] = a
	return nil
}

func (s *auctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *auctionStore) List(_ context.Context, status domain.AuctionStatus, opts domain.ListOpts) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *auctionStore) ApplyBid(_ context.Context, id string, upd domain.PriceUpdate, b domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !a.CurrentPrice.Equal(upd.Expected) || a.BidCount != upd.ExpectedCount {
		return domain.ErrStalePrice
	}
	a.CurrentPrice = upd.Price
	a.BidCount = upd.BidCount
	a.HighBidderID = upd.HighBidderID
	a.UpdatedAt = b.PlacedAt
	s.auctions[id] = a

	s.seq++
	b.Seq = s.seq
	s.bids[id] = append(s.bids[id], b)
	return nil
}

func (s *auctionStore) SetStatus(_ context.Context, id string, status domain.AuctionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	s.auctions[id] = a
	return nil
}

func (s *auctionStore) SetEndTime(_ context.Context, id string, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.EndTime = endTime
	a.UpdatedAt = time.Now().UTC()
	s.auctions[id] = a
	return nil
}

func (s *auctionStore) SetWinner(_ context.Context, id string, winnerID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.WinnerID = winnerID
	a.UpdatedAt = time.Now().UTC()
	s.auctions[id] = a
	return nil
}

func (s *auctionStore) ListStartDue(_ context.Context, now time.Time) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status == domain.AuctionStatusScheduled && !a.StartTime.After(now) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *auctionStore) ListEndDue(_ context.Context, now time.Time) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.Status.Biddable() && !a.EndTime.After(now) {
			out = append(out, a)
		}
	}
	sortByEnd(out)
	return out, nil
}

func (s *auctionStore) ListEndingWithin(_ context.Context, now time.Time, window time.Duration) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := now.Add(window)
	var out []domain.Auction
	for _, a := range s.auctions {
		if !a.Status.Biddable() {
			continue
		}
		if a.EndTime.After(now) && !a.EndTime.After(cutoff) {
			out = append(out, a)
		}
	}
	sortByEnd(out)
	return out, nil
}

type bidStore Store

var _ domain.BidStore = (*bidStore)(nil)

func (s *bidStore) ListByAuction(_ context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bids[auctionID]
	out := make([]domain.Bid, len(src))
	for i, b := range src {
		out[len(src)-1-i] = b // newest first
	}
	return paginate(out, opts), nil
}

func (s *bidStore) ListBefore(_ context.Context, before time.Time) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Bid
	for _, bids := range s.bids {
		for _, b := range bids {
			if b.PlacedAt.Before(before) {
				out = append(out, b)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *bidStore) Count(_ context.Context, auctionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.bids[auctionID])), nil
}

type ceilingStore Store

var _ domain.CeilingStore = (*ceilingStore)(nil)

func (s *ceilingStore) Upsert(_ context.Context, c domain.ProxyCeiling) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBidder, ok := s.ceilings[c.AuctionID]
	if !ok {
		byBidder = make(map[string]domain.ProxyCeiling)
		s.ceilings[c.AuctionID] = byBidder
	}
	if prev, ok := byBidder[c.BidderID]; ok {
		// Replacing a ceiling keeps the original registration time, so the
		// tie-break ranks by first registration.
		c.CreatedAt = prev.CreatedAt
	}
	byBidder[c.BidderID] = c
	return nil
}

func (s *ceilingStore) Get(_ context.Context, auctionID, bidderID string) (domain.ProxyCeiling, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.ceilings[auctionID][bidderID]
	if !ok {
		return domain.ProxyCeiling{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *ceilingStore) ListActive(_ context.Context, auctionID string) ([]domain.ProxyCeiling, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProxyCeiling
	for _, c := range s.ceilings[auctionID] {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *ceilingStore) Deactivate(_ context.Context, auctionID, bidderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.ceilings[auctionID][bidderID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	s.ceilings[auctionID][bidderID] = c
	return nil
}

func (s *ceilingStore) DeactivateAll(_ context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, c := range s.ceilings[auctionID] {
		c.Active = false
		c.UpdatedAt = now
		s.ceilings[auctionID][id] = c
	}
	return nil
}

type settlementStore Store

var _ domain.SettlementStore = (*settlementStore)(nil)

func (s *settlementStore) Create(_ context.Context, st domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settlements[st.AuctionID]; ok {
		return nil // insert-once
	}
	s.settlements[st.AuctionID] = st
	return nil
}

func (s *settlementStore) Get(_ context.Context, auctionID string) (domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[auctionID]
	if !ok {
		return domain.Settlement{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *settlementStore) ListUndelivered(_ context.Context, limit int) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	for _, st := range s.settlements {
		if st.DeliveredAt == nil {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *settlementStore) MarkDelivered(_ context.Context, auctionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	st.DeliveredAt = &now
	s.settlements[auctionID] = st
	return nil
}

func (s *settlementStore) ListBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Settlement
	for _, st := range s.settlements {
		if st.CreatedAt.Before(before) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type auditStore Store

var _ domain.AuditStore = (*auditStore)(nil)

func (s *auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        s.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEntry, len(s.audit))
	for i, e := range s.audit {
		out[len(s.audit)-1-i] = e
	}
	return paginate(out, opts), nil
}

func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && len(in) > opts.Limit {
		in = in[:opts.Limit]
	}
	return in
}

func sortByStart(a []domain.Auction) {
	sort.Slice(a, func(i, j int) bool { return a[i].StartTime.Before(a[j].StartTime) })
}

func sortByEnd(a []domain.Auction) {
	sort.Slice(a, func(i, j int) bool { return a[i].EndTime.Before(a[j].EndTime) })
}
