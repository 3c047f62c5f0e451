package protocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/softwarewrighter/ui-test/pkg/protocol/protocoltest"
	"github.com/softwarewrighter/ui-test/pkg/wire"
)

func newTestClient(t *testing.T, h protocoltest.Handler) (*Client, *protocoltest.Server) {
	t.Helper()
	srv := protocoltest.NewServer(h)
	c := New(srv.ClientWriter(), srv.ClientReader())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Close(ctx)
		srv.Close()
	})
	return c, srv
}

func TestHandshake(t *testing.T) {
	c, _ := newTestClient(t, nil)
	if c.State() != Connecting {
		t.Fatalf("state before handshake = %s", c.State())
	}
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if c.State() != Ready {
		t.Errorf("state = %s, want ready", c.State())
	}
	if c.ServerName() != "fake-playwright" {
		t.Errorf("server name = %q", c.ServerName())
	}
	if missing := c.MissingTools(); len(missing) != 0 {
		t.Errorf("missing tools = %v", missing)
	}
	if got := len(c.Tools()); got != len(protocoltest.DefaultTools) {
		t.Errorf("got %d tools, want %d", got, len(protocoltest.DefaultTools))
	}
}

func TestHandshake_ReportsMissingTools(t *testing.T) {
	c, srv := newTestClient(t, nil)
	srv.SetTools([]string{"browser_navigate", "browser_snapshot"})
	if err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	missing := c.MissingTools()
	if len(missing) != 3 {
		t.Fatalf("missing = %v", missing)
	}
	if missing[0] != wire.ToolClick {
		t.Errorf("first missing = %q", missing[0])
	}
}

func TestCall_OutOfOrderResponses(t *testing.T) {
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	c, _ := newTestClient(t, func(req protocoltest.Request) protocoltest.Reply {
		url, _ := req.Args["url"].(string)
		switch url {
		case "a":
			return protocoltest.Reply{Text: "page a", Wait: releaseA}
		case "b":
			return protocoltest.Reply{Text: "page b", Wait: releaseB}
		}
		return protocoltest.Reply{Text: "other"}
	})

	var wg sync.WaitGroup
	results := map[string]string{}
	var mu sync.Mutex
	for _, url := range []string{"a", "b"} {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			p, err := c.Call(context.Background(), wire.Navigate{URL: url})
			if err != nil {
				t.Errorf("call %s: %v", url, err)
				return
			}
			text, err := p.Text()
			if err != nil {
				t.Errorf("text %s: %v", url, err)
				return
			}
			mu.Lock()
			results[url] = text
			mu.Unlock()
		}(url)
	}

	// Both requests must be outstanding at once before either is answered.
	deadline := time.Now().Add(2 * time.Second)
	for c.InFlight() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("in flight = %d, want 2", c.InFlight())
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(releaseB)
	time.Sleep(20 * time.Millisecond)
	close(releaseA)
	wg.Wait()

	if results["a"] != "page a" {
		t.Errorf("a got %q", results["a"])
	}
	if results["b"] != "page b" {
		t.Errorf("b got %q", results["b"])
	}
	if c.InFlight() != 0 {
		t.Errorf("in flight after completion = %d", c.InFlight())
	}
}

func TestCall_TimeoutKeepsConnection(t *testing.T) {
	c, _ := newTestClient(t, func(req protocoltest.Request) protocoltest.Reply {
		if req.Tool == wire.ToolClick {
			return protocoltest.Reply{Drop: true}
		}
		return protocoltest.Reply{Text: "ok"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Call(ctx, wire.Click{Ref: "e1"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if c.InFlight() != 0 {
		t.Errorf("timed-out slot not removed, in flight = %d", c.InFlight())
	}

	if _, err := c.Call(context.Background(), wire.Snapshot{}); err != nil {
		t.Fatalf("connection should survive a timeout: %v", err)
	}
	if c.State() == Disconnected {
		t.Error("state should not be disconnected after a timeout")
	}
}

func TestCall_ConnectionClosedFailsPending(t *testing.T) {
	never := make(chan struct{})
	c, srv := newTestClient(t, func(req protocoltest.Request) protocoltest.Reply {
		return protocoltest.Reply{Wait: never}
	})

	errCh := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Call(context.Background(), wire.Snapshot{})
			errCh <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.InFlight() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("in flight = %d, want 3", c.InFlight())
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Crash()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("expected ErrConnectionClosed, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not failed after server crash")
		}
	}

	if c.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
	if _, err := c.Call(context.Background(), wire.Snapshot{}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("later call: expected ErrConnectionClosed, got %v", err)
	}
	if !errors.Is(c.Err(), ErrConnectionClosed) {
		t.Errorf("Err() = %v", c.Err())
	}
}

func TestCall_MalformedLineDiscarded(t *testing.T) {
	c, srv := newTestClient(t, nil)

	if err := srv.WriteRaw("this is not json"); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if err := srv.WriteRaw(`{"jsonrpc":"2.0","id":"999","result":{"content":[]}}`); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	p, err := c.Call(context.Background(), wire.Snapshot{})
	if err != nil {
		t.Fatalf("call after malformed line: %v", err)
	}
	if text, _ := p.Text(); text != "ok" {
		t.Errorf("got %q", text)
	}
	if c.CodecErrors() != 1 {
		t.Errorf("codec errors = %d, want 1", c.CodecErrors())
	}
}

func TestCall_RemoteErrors(t *testing.T) {
	c, _ := newTestClient(t, func(req protocoltest.Request) protocoltest.Reply {
		switch req.Tool {
		case wire.ToolNavigate:
			return protocoltest.Reply{RPCError: &protocoltest.RPCError{Code: "NAV_FAILED", Message: "net::ERR_CONNECTION_REFUSED"}}
		default:
			return protocoltest.Reply{IsError: true, Text: "Ref e9 not found"}
		}
	})

	err := c.Navigate(context.Background(), "http://localhost:1")
	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected *wire.RemoteError, got %v", err)
	}
	if remote.Code != "NAV_FAILED" {
		t.Errorf("code = %q", remote.Code)
	}

	err = c.Click(context.Background(), "e9", "button")
	if !errors.As(err, &remote) {
		t.Fatalf("expected *wire.RemoteError, got %v", err)
	}
	if remote.Code != wire.CodeToolError || remote.Message != "Ref e9 not found" {
		t.Errorf("got %+v", remote)
	}
	if c.State() == Disconnected {
		t.Error("remote errors must not close the connection")
	}
}

func TestClose_FailsPendingAndRejectsLaterCalls(t *testing.T) {
	never := make(chan struct{})
	c, _ := newTestClient(t, func(req protocoltest.Request) protocoltest.Reply {
		return protocoltest.Reply{Wait: never}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), wire.Snapshot{})
		errCh <- err
	}()
	for c.InFlight() < 1 {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not failed by Close")
	}
	if c.State() != Disconnected {
		t.Errorf("state = %s", c.State())
	}
	if err := c.Navigate(context.Background(), "x"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed after close, got %v", err)
	}
}

func TestTypedHelpers(t *testing.T) {
	browser := protocoltest.NewBrowser(map[string]protocoltest.Page{
		"http://app/": {
			Title:    "App",
			Snapshot: `- textbox "Email" [ref=e2]` + "\n" + `- button "Go" [ref=e3]`,
		},
	})
	c, _ := newTestClient(t, browser.Handle)
	ctx := context.Background()

	if err := c.Navigate(ctx, "http://app/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	text, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if want := "- Page URL: http://app/"; !strings.Contains(text, want) {
		t.Errorf("snapshot missing %q:\n%s", want, text)
	}
	if err := c.Fill(ctx, "e2", "Email", "me@example.com"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := browser.Typed("e2"); got != "me@example.com" {
		t.Errorf("typed = %q", got)
	}
	if err := c.Click(ctx, "e3", "Go"); err != nil {
		t.Fatalf("click: %v", err)
	}
	img, err := c.Screenshot(ctx, "x.png")
	if err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if string(img) != string(protocoltest.PNG) {
		t.Errorf("image = %v", img)
	}
	if err := c.Resize(ctx, 800, 600); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := c.CloseBrowser(ctx); err != nil {
		t.Fatalf("close browser: %v", err)
	}
}
