// Command chatpoll follows one user's inbox from a terminal. Each line typed on
// stdin is sent to the selected conversation, or to a new one on -listing with
// -recipient.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"rentchat/internal/app/dto"
	"rentchat/internal/chatclient"
	"rentchat/internal/infra/obs"
)

type options struct {
	Server       string        `envconfig:"SERVER" default:"http://localhost:8080"`
	User         string        `envconfig:"USER_ID"`
	Conversation string        `envconfig:"CONVERSATION"`
	Listing      string        `envconfig:"LISTING"`
	Recipient    string        `envconfig:"RECIPIENT"`
	Interval     time.Duration `envconfig:"INTERVAL" default:"2500ms"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"0s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"warn"`
}

func main() {
	var opts options
	if err := envconfig.Process("chatpoll", &opts); err != nil {
		fmt.Fprintln(os.Stderr, "chatpoll:", err)
		os.Exit(2)
	}
	flag.StringVar(&opts.Server, "server", opts.Server, "chat server base URL")
	flag.StringVar(&opts.User, "user", opts.User, "user id to follow and send as")
	flag.StringVar(&opts.Conversation, "conversation", opts.Conversation, "conversation to send into")
	flag.StringVar(&opts.Listing, "listing", opts.Listing, "listing for a new conversation")
	flag.StringVar(&opts.Recipient, "recipient", opts.Recipient, "counterpart for a new conversation")
	flag.DurationVar(&opts.Interval, "interval", opts.Interval, "poll interval")
	flag.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "HTTP timeout, 0 for none")
	flag.Parse()
	if strings.TrimSpace(opts.User) == "" {
		fmt.Fprintln(os.Stderr, "chatpoll: -user is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := obs.NewLogger("dev", opts.LogLevel)
	printer := &inboxPrinter{w: os.Stdout, user: opts.User}
	poller := &chatclient.Poller{
		API:      chatclient.NewClient(opts.Server, opts.Timeout),
		UserID:   opts.User,
		Outbox:   chatclient.NewOutbox(chatclient.DefaultMatchWindow),
		Interval: opts.Interval,
		OnUpdate: printer.Print,
		Logger:   logger,
	}
	go func() {
		_ = poller.Run(ctx)
	}()

	target := opts.Conversation
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				poller.Trigger()
				continue
			}
			req := dto.SendMessageRequest{ConversationID: target, SenderID: opts.User, Text: text}
			if target == "" {
				req.ListingID = opts.Listing
				req.RecipientID = opts.Recipient
			}
			res, err := poller.Send(ctx, req)
			if err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", err)
				continue
			}
			target = res.ConversationID
		}
	}
}

// inboxPrinter redraws the inbox when its rendering changes.
type inboxPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	user string
	last string
}

func (p *inboxPrinter) Print(views []chatclient.View) {
	out := render(views, p.user)
	p.mu.Lock()
	defer p.mu.Unlock()
	if out == p.last {
		return
	}
	p.last = out
	fmt.Fprint(p.w, out)
}

func render(views []chatclient.View, user string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- inbox of %s (%d) ---\n", user, len(views))
	for _, v := range views {
		title := v.ID
		if v.Listing != nil && v.Listing.Title != "" {
			title = v.Listing.Title + " [" + v.ID + "]"
		}
		if v.Draft {
			title += " (new)"
		}
		fmt.Fprintf(&b, "# %s\n", title)
		for _, m := range v.Messages {
			who := m.SenderID
			if p, ok := v.Participants[m.SenderID]; ok && p.Name != "" {
				who = p.Name
			}
			mark := ""
			if m.Pending {
				mark = " …"
			}
			fmt.Fprintf(&b, "  %s %s: %s%s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Text, mark)
		}
	}
	return b.String()
}
