package view

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	log "log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"kino/pkg/protocol"
)

const fallbackAvatar = "idle.png"

var ErrNoAvatar = errors.New("avatar unavailable")

// Avatars fetches status artwork from the backend and renders it as
// half-block text. A missing image falls back to idle.png once; when that is
// missing too it is never requested again.
type Avatars struct {
	client *http.Client
	origin string
	width  int

	mu             sync.Mutex
	cache          map[string]string
	fallbackBroken bool
}

func NewAvatars(client *http.Client, origin string, width int) *Avatars {
	if client == nil {
		client = http.DefaultClient
	}
	if width <= 0 {
		width = 24
	}
	return &Avatars{
		client: client,
		origin: origin,
		width:  width,
		cache:  make(map[string]string),
	}
}

// Load returns the rendered art for name, resolving the fallback when needed.
func (a *Avatars) Load(ctx context.Context, name string) (string, error) {
	art, err := a.load(ctx, name)
	if err == nil || name == fallbackAvatar {
		return art, err
	}

	log.Debug("Avatar missing, using fallback", "name", name, "err", err)
	return a.load(ctx, fallbackAvatar)
}

func (a *Avatars) load(ctx context.Context, name string) (string, error) {
	a.mu.Lock()
	if art, ok := a.cache[name]; ok {
		a.mu.Unlock()
		return art, nil
	}
	if name == fallbackAvatar && a.fallbackBroken {
		a.mu.Unlock()
		return "", ErrNoAvatar
	}
	a.mu.Unlock()

	art, err := a.fetch(ctx, name)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if name == fallbackAvatar {
			log.Error("Fallback avatar unavailable, giving up on artwork", "err", err)
			a.fallbackBroken = true
		}
		return "", fmt.Errorf("%w: %s: %v", ErrNoAvatar, name, err)
	}
	a.cache[name] = art
	return art, nil
}

func (a *Avatars) fetch(ctx context.Context, name string) (string, error) {
	url, err := protocol.AssetURL(a.origin, name)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(resp.Status)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return HalfBlocks(img, a.width), nil
}

// HalfBlocks renders img width cells wide, two pixel rows per text line.
func HalfBlocks(img image.Image, width int) string {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 || width <= 0 {
		return ""
	}
	if width > b.Dx() {
		width = b.Dx()
	}

	// terminal cells are about twice as tall as wide, half blocks undo that
	height := b.Dy() * width / b.Dx()
	if height%2 == 1 {
		height++
	}
	if height < 2 {
		height = 2
	}

	at := func(x, y int) (color.Color, bool) {
		sx := b.Min.X + x*b.Dx()/width
		sy := b.Min.Y + y*b.Dy()/height
		c := img.At(sx, sy)
		_, _, _, alpha := c.RGBA()
		return c, alpha >= 0x8000
	}

	var sb strings.Builder
	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x++ {
			top, topOK := at(x, y)
			bot, botOK := at(x, y+1)

			switch {
			case topOK && botOK:
				sb.WriteString(lipgloss.NewStyle().
					Foreground(hex(top)).
					Background(hex(bot)).
					Render("▀"))
			case topOK:
				sb.WriteString(lipgloss.NewStyle().Foreground(hex(top)).Render("▀"))
			case botOK:
				sb.WriteString(lipgloss.NewStyle().Foreground(hex(bot)).Render("▄"))
			default:
				sb.WriteByte(' ')
			}
		}
		if y+2 < height {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func hex(c color.Color) lipgloss.Color {
	r, g, b, _ := c.RGBA()
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8))
}
