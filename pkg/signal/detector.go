// Package signal classifies the live trade and depth flow into an
// advisory signal used to tune grid aggressiveness.
package signal

import (
	"time"

	"github.com/c-pro/rolling"
	"github.com/shopspring/decimal"

	"gridbot/pkg/models"
)

type Kind int

const (
	None Kind = iota
	Dump
	Support
)

func (k Kind) String() string {
	switch k {
	case Dump:
		return "dump"
	case Support:
		return "support"
	}
	return "none"
}

// Signal is advisory only: it has no lifecycle of its own and is
// superseded by the next classification.
type Signal struct {
	Kind   Kind
	Price  decimal.Decimal
	Volume decimal.Decimal
}

const (
	windowTrades  = 300
	windowSpan    = 2 * time.Second
	dumpFrequency = 15.0 // trades/sec over the window
	dumpSellVol   = 10.0
	supportDepth  = 5
	supportVolume = 100.0
	cooldown      = 5 * time.Second
)

// Detector holds the sliding trade window and per-kind emission cooldowns.
// One instance per bot; not safe for concurrent use, the orchestrator
// serializes calls.
type Detector struct {
	trades *rolling.Window
	sells  *rolling.Window

	lastDump    time.Time
	lastSupport time.Time
	now         func() time.Time
}

func NewDetector() *Detector {
	return NewDetectorWithClock(time.Now)
}

// NewDetectorWithClock injects the cooldown clock for tests.
func NewDetectorWithClock(now func() time.Time) *Detector {
	return &Detector{
		trades: rolling.NewWindow(windowTrades, windowSpan),
		sells:  rolling.NewWindow(windowTrades, windowSpan),
		now:    now,
	}
}

// OnTrade records a trade and reports whether it tips the window into a
// dump: high trade frequency with heavy sell volume.
func (d *Detector) OnTrade(t models.Trade) Signal {
	qty, _ := t.Quantity.Float64()
	d.trades.Add(qty)
	if t.Sell {
		d.sells.Add(qty)
	} else {
		d.sells.Evict()
	}

	freq := float64(d.trades.Count()) / windowSpan.Seconds()
	sellVol := 0.0
	if d.sells.Count() > 0 {
		sellVol = d.sells.Sum()
	}

	if freq > dumpFrequency && sellVol > dumpSellVol {
		now := d.now()
		if now.Sub(d.lastDump) > cooldown {
			d.lastDump = now
			return Signal{Kind: Dump}
		}
	}

	return Signal{Kind: None}
}

// OnDepth sums the top bid levels and reports support when enough volume
// rests near the market.
func (d *Detector) OnDepth(snapshot models.DepthSnapshot) Signal {
	if len(snapshot.Bids) == 0 {
		return Signal{Kind: None}
	}

	topBid := snapshot.Bids[0].Price
	vol := decimal.Zero
	for i, level := range snapshot.Bids {
		if i >= supportDepth {
			break
		}
		vol = vol.Add(level.Size)
	}

	if volF, _ := vol.Float64(); volF > supportVolume {
		now := d.now()
		if now.Sub(d.lastSupport) > cooldown {
			d.lastSupport = now
			return Signal{Kind: Support, Price: topBid, Volume: vol}
		}
	}

	return Signal{Kind: None}
}
