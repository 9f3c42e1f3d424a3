package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirMailbox reads RFC 822 messages dropped as .eml files into a local
// directory. It stands in for the production mail connector: anything
// that can deliver messages to disk feeds the pipeline through it.
type DirMailbox struct {
	Root string
}

// NewDirMailbox builds a mailbox over a drop directory.
func NewDirMailbox(root string) *DirMailbox {
	return &DirMailbox{Root: root}
}

// Fetch parses every .eml file with a Date after since, oldest first.
// Unparseable files are skipped with a log line, not fatal.
func (m *DirMailbox) Fetch(ctx context.Context, since time.Time) ([]InboundEmail, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mailbox dir: %w", err)
	}

	var out []InboundEmail
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".eml") {
			continue
		}
		path := filepath.Join(m.Root, entry.Name())
		email, err := readMessageFile(path)
		if err != nil {
			log.Printf("[Mailbox] skipping %s: %v", entry.Name(), err)
			continue
		}
		if !email.ReceivedAt.After(since) {
			continue
		}
		out = append(out, email)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func readMessageFile(path string) (InboundEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return InboundEmail{}, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return InboundEmail{}, fmt.Errorf("parse message: %w", err)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return InboundEmail{}, fmt.Errorf("read body: %w", err)
	}

	received, err := msg.Header.Date()
	if err != nil {
		// fall back to the file mtime when the Date header is broken
		info, statErr := os.Stat(path)
		if statErr != nil {
			return InboundEmail{}, fmt.Errorf("message date: %w", err)
		}
		received = info.ModTime()
	}

	return InboundEmail{
		Sender:     msg.Header.Get("From"),
		Subject:    msg.Header.Get("Subject"),
		Body:       string(body),
		ReceivedAt: received,
	}, nil
}
