package protocol

import (
	"context"

	"github.com/softwarewrighter/ui-test/pkg/wire"
)

// Navigate loads url.
func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.Call(ctx, wire.Navigate{URL: url})
	return err
}

// Click clicks the node with the given snapshot ref.
func (c *Client) Click(ctx context.Context, ref, element string) error {
	_, err := c.Call(ctx, wire.Click{Ref: ref, Element: element})
	return err
}

// Fill types text into the node with the given snapshot ref.
func (c *Client) Fill(ctx context.Context, ref, element, text string) error {
	_, err := c.Call(ctx, wire.Fill{Ref: ref, Element: element, Text: text})
	return err
}

// Snapshot returns the server's accessibility snapshot text.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	p, err := c.Call(ctx, wire.Snapshot{})
	if err != nil {
		return "", err
	}
	return p.Text()
}

// Screenshot captures the page and returns the image bytes.
func (c *Client) Screenshot(ctx context.Context, path string) ([]byte, error) {
	p, err := c.Call(ctx, wire.Screenshot{Path: path})
	if err != nil {
		return nil, err
	}
	data, _, err := p.Image()
	return data, err
}

// Resize sets the viewport size.
func (c *Client) Resize(ctx context.Context, width, height int) error {
	_, err := c.Call(ctx, wire.Resize{Width: width, Height: height})
	return err
}

// CloseBrowser closes the page. The server process keeps running.
func (c *Client) CloseBrowser(ctx context.Context) error {
	_, err := c.Call(ctx, wire.Close{})
	return err
}
