// Package delivery sends finished batches to a Telegram chat or an e-mail inbox.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"path"
	"regexp"
	"strings"
)

var (
	ErrNoDestination      = errors.New("no destination configured")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrNoMailSession      = errors.New("no authenticated mail session")
	ErrChannelDisabled    = errors.New("delivery channel is not configured")
)

// Kind is a destination type.
type Kind string

const (
	KindTelegram Kind = "telegram"
	KindEmail    Kind = "email"
)

var chatIDPattern = regexp.MustCompile(`^(-?\d+|@[A-Za-z][A-Za-z0-9_]{4,})$`)

// Destination is where a batch goes.
type Destination struct {
	Kind    Kind   `json:"kind"`
	Address string `json:"address"`
}

// Validate reports malformed destinations. Both errors are permanent.
func (d Destination) Validate() error {
	addr := strings.TrimSpace(d.Address)
	if d.Kind == "" && addr == "" {
		return ErrNoDestination
	}
	switch d.Kind {
	case KindTelegram:
		if !chatIDPattern.MatchString(addr) {
			return fmt.Errorf("%w: telegram chat id %q", ErrInvalidDestination, d.Address)
		}
	case KindEmail:
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: e-mail address %q", ErrInvalidDestination, d.Address)
		}
	case "":
		return ErrNoDestination
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDestination, d.Kind)
	}
	return nil
}

func (d Destination) String() string {
	return string(d.Kind) + ":" + d.Address
}

// Item is one analysed image.
type Item struct {
	Image string
	Text  string
}

// Attachment is an image sent alongside the digest.
type Attachment struct {
	Name string
	Data []byte
}

// Batch is a completed job ready for delivery.
type Batch struct {
	Title       string
	Prompt      string
	Model       string
	Items       []Item
	Attachments []Attachment
}

// Digest renders the batch as plain text.
func (b Batch) Digest() string {
	var sb strings.Builder
	title := b.Title
	if title == "" {
		title = "CamFlow results"
	}
	sb.WriteString(title)
	sb.WriteString("\n")
	if b.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", b.Model)
	}
	if b.Prompt != "" {
		fmt.Fprintf(&sb, "Prompt: %s\n", b.Prompt)
	}
	for i, item := range b.Items {
		fmt.Fprintf(&sb, "\n%d. %s\n%s\n", i+1, path.Base(item.Image), item.Text)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Channel delivers a batch to one address of its kind.
type Channel interface {
	Send(ctx context.Context, batch Batch, address string) error
}

// Dispatcher routes batches to the channel matching the destination kind.
type Dispatcher struct {
	channels map[Kind]Channel
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{channels: make(map[Kind]Channel)}
}

// Register installs the channel for kind.
func (d *Dispatcher) Register(kind Kind, ch Channel) {
	d.channels[kind] = ch
}

// Enabled reports whether a channel is installed for kind.
func (d *Dispatcher) Enabled(kind Kind) bool {
	_, ok := d.channels[kind]
	return ok
}

// Send validates dest and hands the batch to its channel.
func (d *Dispatcher) Send(ctx context.Context, batch Batch, dest Destination) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	ch, ok := d.channels[dest.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelDisabled, dest.Kind)
	}
	return ch.Send(ctx, batch, strings.TrimSpace(dest.Address))
}
