// Command client is the operator console: it joins one support room, loads
// history, attaches the reconnecting transport, and exchanges messages and
// typing signals with the counterpart.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/mahir/supportline/pkg/backend"
	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/presence"
	"github.com/mahir/supportline/pkg/session"
	"github.com/mahir/supportline/pkg/store"
	"github.com/mahir/supportline/pkg/transport"
	"github.com/mahir/supportline/pkg/view"
)

const historyPageSize = 50

func main() {
	gatewayAddr := flag.String("gateway", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	operatorID := flag.String("operator", "op1", "operator id")
	label := flag.String("label", "Support", "operator display name")
	roomID := flag.String("room", "", "room id to join")
	flag.Parse()

	if *roomID == "" {
		log.Fatal("-room is required")
	}

	ctx := context.Background()

	// Identity is pre-established in deployment; the console bootstraps
	// it through the token endpoint.
	token, err := backend.Token(ctx, *apiAddr, *operatorID, *label)
	if err != nil {
		log.Fatal("Token bootstrap failed: ", err)
	}

	sess := session.New(*roomID, *operatorID, *label, token)
	api := backend.NewClient(*apiAddr, token)

	if err := api.Join(ctx, sess.RoomID); err != nil {
		log.Fatal("Failed to join room: ", err)
	}

	st := store.New(sess, api)
	heights := view.NewHeightCache(st)
	ctrl := view.NewController(heights)
	defer ctrl.Close()

	console := &consoleSink{store: st, ctrl: ctrl}
	st.SetSink(console)
	ctrl.JumpAvailable = func() {
		fmt.Print("\r-- new messages below --\n> ")
	}

	var sig *presence.Signaler
	tr := transport.New(sess, *gatewayAddr,
		st.IngestRemote,
		func(env model.Envelope) error {
			if err := sig.HandleRemote(env); err != nil {
				return err
			}
			if typing := sig.TypingParticipants(); len(typing) > 0 {
				fmt.Printf("\r%s is typing...\n> ", strings.Join(typing, ", "))
			}
			return nil
		},
	)
	sig = presence.New(sess, tr)
	defer sig.Close()

	// History first: a failed load aborts room entry outright.
	if err := st.LoadInitial(ctx, historyPageSize); err != nil {
		var loadErr *store.LoadError
		if errors.As(err, &loadErr) {
			log.Fatal("Abandoning room: ", loadErr)
		}
		log.Fatal(err)
	}
	for _, m := range st.Snapshot() {
		printMessage(m)
	}

	if err := tr.Connect(); err != nil {
		log.Fatal("Transport connect failed: ", err)
	}
	defer tr.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if line == "/quit" {
				return
			}

			handleLine(ctx, line, st, sig, tr, ctrl, api, sess)
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	}
	// Deferred teardown cancels the typing debounce, the scroll coalescer,
	// and the transport subscription, in that order.
}

func handleLine(ctx context.Context, line string, st *store.Store, sig *presence.Signaler,
	tr *transport.Session, ctrl *view.Controller, api *backend.Client, sess session.RoomSession) {

	switch {
	case line == "/resolve":
		if err := api.MarkResolved(ctx, sess.RoomID); err != nil {
			fmt.Println("resolve failed:", err)
			return
		}
		st.MarkResolved()
		fmt.Println("room resolved")

	case line == "/tail":
		ctrl.JumpToTail()

	case line == "/stats":
		fmt.Printf("messages: %d operator / %d counterpart, resolved=%v, transport=%s\n",
			st.CountBySender(model.RoleOperator),
			st.CountBySender(model.RoleCounterpart),
			st.Resolved(), tr.State())

	case strings.HasPrefix(line, "/upload "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
		sendAttachment(ctx, path, st, tr, api)

	default:
		sig.Keystroke()
		echo, _ := st.AppendLocalEcho(store.Draft{Body: line})
		if err := tr.SendChat(echo); err != nil {
			// The optimistic echo stays PENDING; the operator can
			// retype or ignore it.
			fmt.Println("send failed, message still pending:", err)
		}
	}
}

func sendAttachment(ctx context.Context, path string, st *store.Store, tr *transport.Session, api *backend.Client) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("upload failed:", err)
		return
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	url, err := api.Upload(ctx, filepath.Base(path), mimeType, data)
	if err != nil {
		fmt.Println("upload failed:", err)
		return
	}

	att := &model.Attachment{
		URL:       url,
		Name:      filepath.Base(path),
		SizeBytes: int64(len(data)),
		MimeType:  mimeType,
	}
	echo, _ := st.AppendLocalEcho(store.Draft{Attachment: att})
	if err := tr.SendChat(echo); err != nil {
		fmt.Println("send failed, message still pending:", err)
	}
}

// consoleSink prints appended messages and forwards every notification to
// the viewport controller, which owns the follow/affordance decision.
type consoleSink struct {
	store *store.Store
	ctrl  *view.Controller
}

func (c *consoleSink) SequenceReplaced() {
	c.ctrl.SequenceReplaced()
}

func (c *consoleSink) SequenceGrew() {
	if last, ok := c.store.At(c.store.Len() - 1); ok {
		fmt.Print("\r")
		printMessage(last)
		fmt.Print("> ")
	}
	c.ctrl.SequenceGrew()
}

func (c *consoleSink) IndexInvalidated(i int) {
	c.ctrl.IndexInvalidated(i)
}

func printMessage(m model.Message) {
	state := ""
	if m.DeliveryState == model.StatePending {
		state = " (pending)"
	}
	if m.Attachment != nil {
		fmt.Printf("[%s] %s sent %s (%d bytes)%s\n", m.SenderRole, m.SenderLabel, m.Attachment.Name, m.Attachment.SizeBytes, state)
		return
	}
	fmt.Printf("[%s] %s: %s%s\n", m.SenderRole, m.SenderLabel, m.Body, state)
}
