package pricing

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
)

// PriceDecimals is the precision every normalised price is expressed in.
const PriceDecimals = 18

// PriceStatus captures the health classification assigned to a feed quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals an incomplete round or one older than the
	// configured freshness window.
	PriceStatusStale PriceStatus = "stale"
	// PriceStatusInvalid marks a non-positive answer.
	PriceStatusInvalid PriceStatus = "invalid"
)

// RoundData mirrors an aggregator round. Answer is signed to match external
// aggregators, which report negative values on failure. A round is complete
// once StartedAt is set and AnsweredInRound has caught up with RoundID.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound uint64
}

func (r RoundData) complete() bool {
	return r.StartedAt != 0 && r.AnsweredInRound >= r.RoundID
}

// AggregatorFeed is an external USD price source for a single token.
type AggregatorFeed interface {
	LatestRoundData() (RoundData, error)
	Decimals() uint8
}

// StaticFeed is an in-process feed whose answer is set directly. It backs
// development networks and tests.
type StaticFeed struct {
	mu       sync.RWMutex
	decimals uint8
	round    RoundData
}

// NewStaticFeed returns a feed reporting answer with the given precision.
func NewStaticFeed(decimals uint8, answer *big.Int, updatedAt uint64) *StaticFeed {
	f := &StaticFeed{decimals: decimals}
	f.Set(answer, updatedAt)
	return f
}

// Set publishes a new round.
func (f *StaticFeed) Set(answer *big.Int, updatedAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value := new(big.Int)
	if answer != nil {
		value.Set(answer)
	}
	id := f.round.RoundID + 1
	f.round = RoundData{RoundID: id, Answer: value, StartedAt: updatedAt, UpdatedAt: updatedAt, AnsweredInRound: id}
}

// SetRound publishes round as reported, including incomplete rounds.
func (f *StaticFeed) SetRound(round RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if round.Answer == nil {
		round.Answer = new(big.Int)
	} else {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	f.round = round
}

func (f *StaticFeed) LatestRoundData() (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	round := f.round
	round.Answer = new(big.Int).Set(f.round.Answer)
	return round, nil
}

func (f *StaticFeed) Decimals() uint8 { return f.decimals }

// PinnedFeed reports a fixed answer stamped with the current time, so it never
// goes stale. Genesis prices use it on networks without an aggregator.
type PinnedFeed struct {
	decimals uint8
	answer   *big.Int
	clock    func() uint64
}

func NewPinnedFeed(decimals uint8, answer *big.Int, clock func() uint64) *PinnedFeed {
	value := new(big.Int)
	if answer != nil {
		value.Set(answer)
	}
	return &PinnedFeed{decimals: decimals, answer: value, clock: clock}
}

func (f *PinnedFeed) LatestRoundData() (RoundData, error) {
	now := f.clock()
	return RoundData{RoundID: 1, Answer: new(big.Int).Set(f.answer), StartedAt: now, UpdatedAt: now, AnsweredInRound: 1}, nil
}

func (f *PinnedFeed) Decimals() uint8 { return f.decimals }

// Quote is a normalised price together with its freshness classification.
type Quote struct {
	Price      *uint256.Int
	AgeSeconds uint32
	Status     PriceStatus
}

// Oracle resolves token prices from registered feeds and normalises them to
// PriceDecimals.
type Oracle struct {
	mu     sync.RWMutex
	feeds  map[uint16]AggregatorFeed
	maxAge time.Duration
}

// NewOracle constructs an oracle rejecting rounds older than maxAge. A zero
// maxAge disables the freshness check.
func NewOracle(maxAge time.Duration) *Oracle {
	return &Oracle{feeds: make(map[uint16]AggregatorFeed), maxAge: maxAge}
}

// RegisterFeed installs or replaces the feed for tokenID.
func (o *Oracle) RegisterFeed(tokenID uint16, feed AggregatorFeed) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feeds[tokenID] = feed
}

// HasFeed reports whether a feed is registered for tokenID.
func (o *Oracle) HasFeed(tokenID uint16) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.feeds[tokenID]
	return ok
}

// Quote reads the latest round for tokenID and classifies it against now,
// expressed in unix seconds.
func (o *Oracle) Quote(tokenID uint16, now uint64) (Quote, error) {
	o.mu.RLock()
	feed, ok := o.feeds[tokenID]
	o.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("pricing: no feed for token %d: %w", tokenID, ledgererr.ErrInvalidPrice)
	}
	round, err := feed.LatestRoundData()
	if err != nil {
		return Quote{}, fmt.Errorf("pricing: token %d: %v: %w", tokenID, err, ledgererr.ErrInvalidPrice)
	}
	age := computeAgeSeconds(round.UpdatedAt, now)
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Quote{AgeSeconds: age, Status: PriceStatusInvalid}, nil
	}
	price, err := normalise(round.Answer, feed.Decimals())
	if err != nil {
		return Quote{}, err
	}
	status := PriceStatusOK
	switch {
	case !round.complete():
		status = PriceStatusStale
	case o.maxAge > 0 && uint64(age) > uint64(o.maxAge/time.Second):
		status = PriceStatusStale
	}
	return Quote{Price: price, AgeSeconds: age, Status: status}, nil
}

// Price returns the normalised price of tokenID. Stale or non-positive
// answers are rejected with ErrInvalidPrice.
func (o *Oracle) Price(tokenID uint16, now uint64) (*uint256.Int, error) {
	quote, err := o.Quote(tokenID, now)
	if err != nil {
		return nil, err
	}
	if quote.Status != PriceStatusOK {
		return nil, fmt.Errorf("pricing: token %d quote %s: %w", tokenID, quote.Status, ledgererr.ErrInvalidPrice)
	}
	return quote.Price, nil
}

func normalise(answer *big.Int, decimals uint8) (*uint256.Int, error) {
	value := new(big.Int).Set(answer)
	switch {
	case decimals < PriceDecimals:
		value.Mul(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PriceDecimals-decimals)), nil))
	case decimals > PriceDecimals:
		value.Quo(value, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-PriceDecimals)), nil))
	}
	price, overflow := uint256.FromBig(value)
	if overflow || price.IsZero() {
		return nil, ledgererr.ErrInvalidPrice
	}
	return price, nil
}

func computeAgeSeconds(observed, now uint64) uint32 {
	if observed == 0 {
		return math.MaxUint32
	}
	if observed >= now {
		return 0
	}
	delta := now - observed
	if delta > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(delta)
}
