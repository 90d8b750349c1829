// client.go adapts the go-xmpp client to the transport interface and
// absorbs the protocol chores the session loop does not want to see:
// keepalive ping replies, service discovery queries and roster results.
package xmpp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goxmpp "github.com/xmppo/go-xmpp"
)

// discoFeatures is the capability set advertised in response to
// XEP-0030 disco#info queries.
var discoFeatures = []string{
	"http://jabber.org/protocol/disco#info", // XEP-0030 Service Discovery
	"jabber:x:data",                         // XEP-0004 Data Forms
	"http://jabber.org/protocol/pubsub",     // XEP-0060 Publish-Subscribe
	"urn:xmpp:ping",                         // XEP-0199 XMPP Ping
}

// client wraps a live go-xmpp connection.
type client struct {
	cli    *goxmpp.Client
	jid    string
	domain string
	status string
	logger *slog.Logger
}

// dialClient connects and authenticates against the XMPP server.
func dialClient(cfg Config, logger *slog.Logger) (transport, error) {
	host := cfg.Server
	domain := cfg.JID
	if _, d, ok := strings.Cut(cfg.JID, "@"); ok {
		domain = d
		if host == "" {
			host = d
		}
	}

	opts := goxmpp.Options{
		Host:        host,
		User:        cfg.JID,
		Password:    cfg.Password,
		Resource:    cfg.Resource,
		NoTLS:       !cfg.DirectTLS,
		StartTLS:    !cfg.DirectTLS,
		Debug:       cfg.Debug,
		Session:     true,
		DialTimeout: 30 * time.Second,
	}

	cli, err := opts.NewClient()
	if err != nil {
		return nil, err
	}

	return &client{
		cli:    cli,
		jid:    cfg.JID,
		domain: domain,
		status: cfg.StatusMessage,
		logger: logger,
	}, nil
}

// Announce sends the initial presence.
func (c *client) Announce() error {
	presence := "<presence/>"
	if c.status != "" {
		presence = fmt.Sprintf("<presence><status>%s</status></presence>",
			xmlEscape(c.status))
	}
	_, err := c.cli.SendOrg(presence)
	return err
}

// Roster requests the contact list. The result arrives on the stream
// and is logged by Recv.
func (c *client) Roster() error {
	return c.cli.Roster()
}

// SendChat sends a one-to-one chat message.
func (c *client) SendChat(to, body string) error {
	_, err := c.cli.Send(goxmpp.Chat{Remote: to, Type: "chat", Text: body})
	return err
}

// Ping sends an XEP-0199 client-to-server ping.
func (c *client) Ping() error {
	return c.cli.PingC2S(c.cli.JID(), c.domain)
}

// Close tears the stream down.
func (c *client) Close() error {
	return c.cli.Close()
}

// Recv blocks until the next inbound chat message. Presence updates,
// roster results and IQ queries are handled here and never surface.
func (c *client) Recv() (Message, error) {
	for {
		stanza, err := c.cli.Recv()
		if err != nil {
			return Message{}, err
		}

		switch v := stanza.(type) {
		case goxmpp.Chat:
			if v.Type == "roster" {
				c.logger.Debug("roster received", "contacts", len(v.Roster))
				continue
			}
			return Message{
				From:     v.Remote,
				Body:     v.Text,
				Type:     v.Type,
				Received: time.Now(),
			}, nil

		case goxmpp.Presence:
			c.logger.Debug("presence", "from", v.From, "type", v.Type)

		case goxmpp.IQ:
			c.handleIQ(v)
		}
	}
}

// handleIQ answers the queries we advertise support for.
func (c *client) handleIQ(iq goxmpp.IQ) {
	if iq.Type != "get" {
		return
	}
	query := string(iq.Query)
	switch {
	case strings.Contains(query, "urn:xmpp:ping"):
		c.reply(iq, "")
	case strings.Contains(query, "http://jabber.org/protocol/disco#info"):
		var b strings.Builder
		b.WriteString(`<query xmlns='http://jabber.org/protocol/disco#info'>`)
		b.WriteString(`<identity category='client' type='bot' name='chatty'/>`)
		for _, feature := range discoFeatures {
			fmt.Fprintf(&b, "<feature var='%s'/>", feature)
		}
		b.WriteString(`</query>`)
		c.reply(iq, b.String())
	}
}

// reply sends an IQ result stanza back to the requester.
func (c *client) reply(iq goxmpp.IQ, payload string) {
	var stanza string
	if payload == "" {
		stanza = fmt.Sprintf("<iq to='%s' id='%s' type='result'/>",
			xmlEscape(iq.From), xmlEscape(iq.ID))
	} else {
		stanza = fmt.Sprintf("<iq to='%s' id='%s' type='result'>%s</iq>",
			xmlEscape(iq.From), xmlEscape(iq.ID), payload)
	}
	if _, err := c.cli.SendOrg(stanza); err != nil {
		c.logger.Warn("iq reply failed", "to", iq.From, "error", err)
	}
}

// xmlEscape escapes a string for embedding in a stanza.
func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
