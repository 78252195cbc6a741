// Dumper records trade prints from the public streams to per-symbol
// CSV files. Handy for replaying market conditions against the signal
// detector offline.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gridbot/pkg/models"
	"gridbot/pkg/stream"
)

type mw struct {
	w *csv.Writer
	m *sync.Mutex
}

func main() {
	wsBase := flag.String("ws", "wss://fstream.binance.com", "websocket base URL")
	symbolList := flag.String("symbols", "ethusdt", "comma-separated symbols to dump")
	flag.Parse()

	symbols := strings.Split(*symbolList, ",")

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Never closed; the read loop below exits on ctx instead, so the
	// supervisor can keep sending right up to cancellation.
	ch := make(chan models.ExchangeMessage, 100)

	for _, s := range symbols {
		sup := stream.New(*wsBase, strings.TrimSpace(s), nil, ch, logger)
		go sup.Run(ctx)
	}

	writers := make(map[string]mw, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		f, err := os.OpenFile(fmt.Sprintf("binance-%s-trades.csv", s), os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			log.Fatalf("failed to open file: %v", err)
		}

		writers[s] = mw{w: csv.NewWriter(f), m: &sync.Mutex{}}
		defer func(f *os.File, w mw) {
			w.m.Lock()
			w.w.Flush()
			w.m.Unlock()
			f.Close()
		}(f, writers[s])
	}

	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			for _, w := range writers {
				w.m.Lock()
				w.w.Flush()
				w.m.Unlock()
			}
		}
	}()

	for {
		var msg models.ExchangeMessage
		select {
		case <-ctx.Done():
			return
		case msg = <-ch:
		}

		if msg.MsgType != models.MsgTypeTrade {
			continue
		}

		trade := msg.Payload.(models.Trade)
		w, ok := writers[msg.Symbol]
		if !ok {
			continue
		}

		side := "buy"
		if trade.Sell {
			side = "sell"
		}

		w.m.Lock()
		err := w.w.Write([]string{
			strconv.FormatInt(msg.Timestamp.UnixMilli(), 10),
			trade.Price.String(),
			trade.Quantity.String(),
			side,
		})
		w.m.Unlock()
		if err != nil {
			log.Printf("failed to write %s trade to csv: %v", msg.Symbol, err)
		}
	}
}
