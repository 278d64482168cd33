package fanout

import (
	"comicwatch/crosspost"
	"comicwatch/pkg/notifier"
	"comicwatch/registry"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlatform struct {
	mu       sync.Mutex
	events   []string
	channels map[string]*notifier.Channel
	roles    map[string]*notifier.Role
	sendErr  map[string]error
	editErr  error
	panicOn  string
	hang     map[string]bool // Send blocks until its context is done
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels: map[string]*notifier.Channel{},
		roles:    map[string]*notifier.Role{},
		sendErr:  map[string]error{},
		hang:     map[string]bool{},
	}
}

func (f *fakePlatform) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf(format, args...))
}

func (f *fakePlatform) eventsFor(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if strings.Contains(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakePlatform) Channel(_ context.Context, channelID string) (*notifier.Channel, error) {
	if channelID == f.panicOn {
		panic("boom")
	}
	c, ok := f.channels[channelID]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	return c, nil
}

func (f *fakePlatform) Role(_ context.Context, guildID, roleID string) (*notifier.Role, error) {
	r, ok := f.roles[roleID]
	if !ok || r.GuildID != guildID {
		return nil, notifier.ErrNotFound
	}
	return r, nil
}

func (f *fakePlatform) Send(ctx context.Context, channelID, content string) error {
	f.record("send %s %s", channelID, content)
	if f.hang[channelID] {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.sendErr[channelID]
}

func (f *fakePlatform) SetRoleMentionable(ctx context.Context, guildID, roleID string, mentionable bool, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("role %s/%s mentionable=%t", guildID, roleID, mentionable)
	return f.editErr
}

type fakeSubs struct {
	subs []notifier.Subscription
	err  error
}

func (s *fakeSubs) ListBySource(_ context.Context, sourceID string) ([]notifier.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []notifier.Subscription
	for _, sub := range s.subs {
		if sub.SourceID == sourceID {
			out = append(out, sub)
		}
	}
	return out, nil
}

var _ crosspost.Provider = (*fakeCross)(nil)

type fakeCross struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *fakeCross) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, content)
	return c.err
}

var (
	xkcd = registry.Source{ID: "xkcd", DisplayName: "xkcd"}
	post = &notifier.Post{UniqueID: "2001", URL: "https://xkcd.com/2001", Title: "Foo (Bar)", PublishedAt: time.Now()}
)

func xkcdPlatform() *fakePlatform {
	p := newFakePlatform()
	p.channels["111"] = &notifier.Channel{ID: "111", GuildID: "1", Name: "comics"}
	p.roles["222"] = &notifier.Role{ID: "222", GuildID: "1", Name: "xkcd-fans"}
	return p
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		role *notifier.Role
		want string
	}{
		{
			name: "without role",
			want: "New panels for xkcd! Latest panel:\n*Foo (Bar)*\n<https://xkcd.com/2001>",
		},
		{
			name: "with role",
			role: &notifier.Role{ID: "222"},
			want: "<@&222>: New panels for xkcd! Latest panel:\n*Foo (Bar)*\n<https://xkcd.com/2001>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message("xkcd", post, tt.role); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotifyTogglesRoleAroundSend(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		editErr    error
		wantReport Report
	}{
		{name: "send succeeds", wantReport: Report{Sent: 1}},
		{name: "send fails", sendErr: errors.New("500"), wantReport: Report{Failed: 1}},
		{name: "toggle denied", editErr: notifier.ErrPermissionDenied, wantReport: Report{Sent: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := xkcdPlatform()
			p.sendErr["111"] = tt.sendErr
			p.editErr = tt.editErr
			subs := &fakeSubs{subs: []notifier.Subscription{{GuildID: "1", ChannelID: "111", SourceID: "xkcd", RoleID: "222"}}}

			n := New(p, subs, nil, Config{Timeout: time.Second, Mentions: true}, discardLogger())
			report := n.Notify(context.Background(), xkcd, post)

			if report != tt.wantReport {
				t.Errorf("Notify() report = %+v, want %+v", report, tt.wantReport)
			}
			if len(p.events) != 3 {
				t.Fatalf("events = %q, want toggle on, send, toggle off", p.events)
			}
			if p.events[0] != "role 1/222 mentionable=true" {
				t.Errorf("first event = %q, want role made mentionable", p.events[0])
			}
			if !strings.HasPrefix(p.events[1], "send 111 <@&222>: ") ||
				!strings.Contains(p.events[1], "2001") ||
				!strings.Contains(p.events[1], "https://xkcd.com/2001") {
				t.Errorf("second event = %q, want mention send with 2001 and its URL", p.events[1])
			}
			if p.events[2] != "role 1/222 mentionable=false" {
				t.Errorf("third event = %q, want role made unmentionable", p.events[2])
			}
		})
	}
}

func TestNotifyWithoutMentions(t *testing.T) {
	p := xkcdPlatform()
	subs := &fakeSubs{subs: []notifier.Subscription{{GuildID: "1", ChannelID: "111", SourceID: "xkcd", RoleID: "222"}}}

	n := New(p, subs, nil, Config{Timeout: time.Second, Mentions: false}, discardLogger())
	n.Notify(context.Background(), xkcd, post)

	if got := p.eventsFor("mentionable=true"); len(got) != 0 {
		t.Errorf("role made mentionable with mentions disabled: %q", got)
	}
	if got := p.eventsFor("mentionable=false"); len(got) != 1 {
		t.Errorf("mentionable=false events = %q, want exactly one", got)
	}
}

func TestNotifyIsolatesDestinations(t *testing.T) {
	p := xkcdPlatform()
	p.channels["113"] = &notifier.Channel{ID: "113", GuildID: "3"}
	p.sendErr["113"] = errors.New("missing access")
	p.panicOn = "114"
	subs := &fakeSubs{subs: []notifier.Subscription{
		{GuildID: "1", ChannelID: "111", SourceID: "xkcd"},
		{GuildID: "2", ChannelID: "112", SourceID: "xkcd"}, // deleted channel
		{GuildID: "3", ChannelID: "113", SourceID: "xkcd"},
		{GuildID: "4", ChannelID: "114", SourceID: "xkcd"},
		{GuildID: "1", ChannelID: "111", SourceID: "twokinds"},
	}}

	n := New(p, subs, nil, Config{Timeout: time.Second, Concurrency: 2, Mentions: true}, discardLogger())
	report := n.Notify(context.Background(), xkcd, post)

	want := Report{Sent: 1, Skipped: 1, Failed: 2}
	if report != want {
		t.Errorf("Notify() report = %+v, want %+v", report, want)
	}
	if got := p.eventsFor("send 111 New panels for xkcd!"); len(got) != 1 {
		t.Errorf("channel 111 sends = %q, want one unmentioned xkcd send", got)
	}
	if got := p.eventsFor("send 112"); len(got) != 0 {
		t.Errorf("sent to deleted channel: %q", got)
	}
}

func TestNotifyMissingRoleSendsWithoutMention(t *testing.T) {
	p := xkcdPlatform()
	subs := &fakeSubs{subs: []notifier.Subscription{{GuildID: "1", ChannelID: "111", SourceID: "xkcd", RoleID: "999"}}}

	n := New(p, subs, nil, Config{Timeout: time.Second, Mentions: true}, discardLogger())
	report := n.Notify(context.Background(), xkcd, post)

	if report.Sent != 1 {
		t.Errorf("Notify() report = %+v, want one send", report)
	}
	if got := p.eventsFor("role "); len(got) != 0 {
		t.Errorf("edited a missing role: %q", got)
	}
	if got := p.eventsFor("<@&"); len(got) != 0 {
		t.Errorf("mentioned a missing role: %q", got)
	}
}

func TestNotifyCrossPost(t *testing.T) {
	tests := []struct {
		name    string
		subsErr error
		postErr error
		want    bool
	}{
		{name: "success", want: true},
		{name: "webhook failure is only logged", postErr: errors.New("HTTP 500")},
		{name: "runs even when subscriptions fail", subsErr: errors.New("disk"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cross := &fakeCross{err: tt.postErr}
			subs := &fakeSubs{err: tt.subsErr, subs: []notifier.Subscription{{GuildID: "1", ChannelID: "111", SourceID: "xkcd"}}}

			n := New(xkcdPlatform(), subs, cross, Config{Timeout: time.Second}, discardLogger())
			report := n.Notify(context.Background(), xkcd, post)

			if report.CrossPosted != tt.want {
				t.Errorf("CrossPosted = %v, want %v", report.CrossPosted, tt.want)
			}
			if len(cross.sent) != 1 || strings.Contains(cross.sent[0], "<@&") {
				t.Errorf("cross-posts = %q, want one unmentioned post", cross.sent)
			}
			if tt.subsErr != nil && report.Sent != 0 {
				t.Errorf("Sent = %d after subscription failure, want 0", report.Sent)
			}
		})
	}
}

func TestNotifyHangingDestination(t *testing.T) {
	const timeout = 100 * time.Millisecond

	p := newFakePlatform()
	subs := &fakeSubs{}
	for i, ch := range []string{"111", "112", "113"} {
		role := fmt.Sprintf("22%d", i+1)
		p.channels[ch] = &notifier.Channel{ID: ch, GuildID: "1"}
		p.roles[role] = &notifier.Role{ID: role, GuildID: "1"}
		subs.subs = append(subs.subs, notifier.Subscription{GuildID: "1", ChannelID: ch, SourceID: "xkcd", RoleID: role})
	}
	p.hang["112"] = true

	n := New(p, subs, nil, Config{Timeout: timeout, Concurrency: 1, Mentions: true}, discardLogger())
	start := time.Now()
	report := n.Notify(context.Background(), xkcd, post)
	elapsed := time.Since(start)

	if want := (Report{Sent: 2, Failed: 1}); report != want {
		t.Errorf("Notify() report = %+v, want %+v", report, want)
	}
	if elapsed < timeout || elapsed > 10*timeout {
		t.Errorf("Notify() took %v, want about one delivery timeout (%v)", elapsed, timeout)
	}
	for _, ch := range []string{"111", "113"} {
		if got := p.eventsFor("send " + ch + " "); len(got) != 1 {
			t.Errorf("channel %s sends = %q, want one", ch, got)
		}
	}

	// The role of the hung delivery is reset after its deadline expired.
	hung := p.eventsFor("role 1/222 ")
	if len(hung) != 2 || hung[0] != "role 1/222 mentionable=true" || hung[1] != "role 1/222 mentionable=false" {
		t.Errorf("hung destination role events = %q, want mentionable true then false", hung)
	}
}
