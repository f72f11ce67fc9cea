package fetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/okian/bikeharvest/pkg/logger"
)

const (
	idleWindow   = time.Second
	idleTimeout  = 15 * time.Second
	textLengthJS = `() => document.body ? document.body.innerText.trim().length : 0`
)

// RodNavigator drives one headless browser session. Navigations are
// serialized: a page holds the session until it is closed.
type RodNavigator struct {
	bin      string
	headless bool
	log      logger.Logger

	session sync.Mutex
	browser *rod.Browser
}

// NewRodNavigator launches a browser and connects to it.
func NewRodNavigator(ctx context.Context, opts ...RodOption) (*RodNavigator, error) {
	n := &RodNavigator{headless: true}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Get().Named("browser")
	}

	l := launcher.New().Headless(n.headless)
	if n.bin != "" {
		l = l.Bin(n.bin)
	}
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	n.browser = browser
	n.log.Info(ctx, "browser session started", logger.String("bin", n.bin), logger.Any("headless", n.headless))
	return n, nil
}

// Navigate implements Navigator. The returned page must be closed to free
// the session.
func (n *RodNavigator) Navigate(ctx context.Context, url string, opts NavigateOptions) (Page, error) {
	n.session.Lock()
	page, err := n.open(ctx, url, opts)
	if err != nil {
		n.session.Unlock()
		return nil, err
	}
	return page, nil
}

func (n *RodNavigator) open(ctx context.Context, url string, opts NavigateOptions) (*rodPage, error) {
	page, err := n.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	p := &rodPage{page: page, ctx: ctx, release: n.session.Unlock}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("enable network events: %w", err)
	}
	go page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
			p.status.Store(int64(e.Response.Status))
		}
	})()

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	navErr := make(chan error, 1)
	go func() {
		navErr <- page.Context(navCtx).Navigate(url)
	}()
	select {
	case err := <-navErr:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("navigate: %w", err)
		}
	case <-navCtx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("navigate: %w", navCtx.Err())
	}

	if err := page.Context(navCtx).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("wait load: %w", err)
	}

	waitIdle := page.WaitRequestIdle(idleWindow, nil, nil, nil)
	idleDone := make(chan struct{})
	go func() {
		waitIdle()
		close(idleDone)
	}()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	select {
	case <-idleDone:
	case <-idle.C:
		n.log.Debug(ctx, "request idle not reached", logger.String("url", url))
	case <-ctx.Done():
		_ = page.Close()
		return nil, ctx.Err()
	}

	if err := sleep(ctx, opts.Settle); err != nil {
		_ = page.Close()
		return nil, err
	}

	info, err := page.Info()
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("page info: %w", err)
	}
	p.title, p.url = info.Title, info.URL
	return p, nil
}

// Close shuts the browser down.
func (n *RodNavigator) Close() error {
	n.session.Lock()
	defer n.session.Unlock()
	if n.browser == nil {
		return nil
	}
	return n.browser.Close()
}

type rodPage struct {
	page    *rod.Page
	ctx     context.Context
	status  atomic.Int64
	title   string
	url     string
	release func()
	once    sync.Once
}

func (p *rodPage) Status() int   { return int(p.status.Load()) }
func (p *rodPage) URL() string   { return p.url }
func (p *rodPage) Title() string { return p.title }

func (p *rodPage) HTML() (string, error) {
	return p.page.Context(p.ctx).HTML()
}

func (p *rodPage) TextLength() (int, error) {
	obj, err := p.page.Context(p.ctx).Eval(textLengthJS)
	if err != nil {
		return 0, fmt.Errorf("measure text: %w", err)
	}
	return obj.Value.Int(), nil
}

func (p *rodPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.page.Close()
		p.release()
	})
	return err
}
