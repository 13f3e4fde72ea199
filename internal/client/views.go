package client

import (
	"context"
	"sync"

	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/service"
)

// TrendView the trend chart of one session. Switching windows while a fetch
// is in flight drops the older response when it lands.
type TrendView struct {
	c      *Client
	loader *ledger.Loader[*ledger.TrendSeries]

	mu     sync.Mutex
	window ledger.Window
}

func NewTrendView(c *Client) *TrendView {
	return &TrendView{
		c: c,
		loader: ledger.NewLoader(func(s *ledger.TrendSeries) bool {
			return s == nil || s.Empty()
		}),
		window: ledger.Window7Days,
	}
}

// Select switches to w and fetches its series. applied is false when a later
// selection superseded this one.
func (v *TrendView) Select(ctx context.Context, w ledger.Window) (ledger.LoadState[*ledger.TrendSeries], bool) {
	v.mu.Lock()
	v.window = w
	v.mu.Unlock()
	return ledger.Run(ctx, v.loader, func(ctx context.Context) (*ledger.TrendSeries, error) {
		return v.c.Trends(ctx, w)
	})
}

// Refresh refetches the selected window.
func (v *TrendView) Refresh(ctx context.Context) (ledger.LoadState[*ledger.TrendSeries], bool) {
	return v.Select(ctx, v.Window())
}

func (v *TrendView) Window() ledger.Window {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.window
}

func (v *TrendView) State() ledger.LoadState[*ledger.TrendSeries] { return v.loader.Snapshot() }

// HistoryBrowser history with staged filters. Stage never refetches; Apply
// and Clear do.
type HistoryBrowser struct {
	c      *Client
	loader *ledger.Loader[*service.HistoryView]

	mu      sync.Mutex
	session ledger.FilterSession
}

func NewHistoryBrowser(c *Client) *HistoryBrowser {
	return &HistoryBrowser{
		c: c,
		loader: ledger.NewLoader(func(v *service.HistoryView) bool {
			return v == nil || v.Total == 0
		}),
	}
}

func (b *HistoryBrowser) Stage(cfg ledger.FilterConfig) {
	b.mu.Lock()
	b.session.Stage(cfg)
	b.mu.Unlock()
}

func (b *HistoryBrowser) Pending() ledger.FilterConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Pending()
}

func (b *HistoryBrowser) Applied() (ledger.FilterConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.Applied(), b.session.Active()
}

func (b *HistoryBrowser) Apply(ctx context.Context) (ledger.LoadState[*service.HistoryView], bool) {
	b.mu.Lock()
	b.session.Apply()
	b.mu.Unlock()
	return b.Refresh(ctx)
}

func (b *HistoryBrowser) Clear(ctx context.Context) (ledger.LoadState[*service.HistoryView], bool) {
	b.mu.Lock()
	b.session.Clear()
	b.mu.Unlock()
	return b.Refresh(ctx)
}

// Refresh refetches with the applied filter.
func (b *HistoryBrowser) Refresh(ctx context.Context) (ledger.LoadState[*service.HistoryView], bool) {
	cfg, _ := b.Applied()
	return ledger.Run(ctx, b.loader, func(ctx context.Context) (*service.HistoryView, error) {
		return b.c.History(ctx, cfg)
	})
}

func (b *HistoryBrowser) State() ledger.LoadState[*service.HistoryView] { return b.loader.Snapshot() }
