package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/diff"
	"github.com/unishark/portalwatch/internal/errclass"
	"github.com/unishark/portalwatch/internal/watch"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeChannel struct {
	name string
	err  error

	mu         sync.Mutex
	deliveries []watch.Payload
	dests      []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(_ context.Context, dest string, p watch.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.deliveries = append(c.deliveries, p)
	c.dests = append(c.dests, dest)
	return nil
}

func testRenderer() *Renderer {
	return NewRenderer(fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)})
}

func newItemsEvent() Event {
	return Event{
		Type: EventNewItems,
		Items: diff.Result{
			Assignments: []watch.Assignment{
				{Course: "CS101", Name: "HW2", SubmitStatus: "Not Submitted", ClosedAt: "Jul 20, 2025 at 11:59 PM"},
			},
		},
	}
}

func fullTenant() watch.Tenant {
	return watch.Tenant{
		ID:              "t1",
		Email:           "student@example.edu",
		EmailEnabled:    true,
		TelegramChatID:  "12345",
		TelegramEnabled: true,
		DiscordWebhook:  "https://discord.example/webhook",
	}
}

func TestDispatchAllChannels(t *testing.T) {
	email := &fakeChannel{name: "email"}
	telegram := &fakeChannel{name: "telegram"}
	discord := &fakeChannel{name: "discord"}
	d := NewDispatcher(testRenderer(), email, telegram, discord, zap.NewNop())

	delivered := d.Dispatch(context.Background(), fullTenant(), newItemsEvent())
	require.Equal(t, 3, delivered)
	require.Equal(t, []string{"student@example.edu"}, email.dests)
	require.Equal(t, []string{"12345"}, telegram.dests)
	require.Contains(t, email.deliveries[0].HTML, "HW2")
	require.Contains(t, telegram.deliveries[0].Text, "HW2")
}

func TestDispatchRespectsChannelToggles(t *testing.T) {
	email := &fakeChannel{name: "email"}
	telegram := &fakeChannel{name: "telegram"}
	d := NewDispatcher(testRenderer(), email, telegram, nil, zap.NewNop())

	tenant := fullTenant()
	tenant.EmailEnabled = false
	tenant.DiscordWebhook = ""

	delivered := d.Dispatch(context.Background(), tenant, newItemsEvent())
	require.Equal(t, 1, delivered)
	require.Empty(t, email.deliveries)
	require.Len(t, telegram.deliveries, 1)
}

func TestDispatchIsolatesChannelFailure(t *testing.T) {
	email := &fakeChannel{name: "email", err: errors.New("smtp down")}
	telegram := &fakeChannel{name: "telegram"}
	discord := &fakeChannel{name: "discord"}
	d := NewDispatcher(testRenderer(), email, telegram, discord, zap.NewNop())

	delivered := d.Dispatch(context.Background(), fullTenant(), newItemsEvent())
	require.Equal(t, 2, delivered, "other channels still deliver when one fails")
	require.Len(t, telegram.deliveries, 1)
	require.Len(t, discord.deliveries, 1)
}

func TestEscapeMarkdownV2(t *testing.T) {
	require.Equal(t, `HW2 \(CS101\) \- due\!`, EscapeMarkdownV2("HW2 (CS101) - due!"))
	require.Equal(t, "plain text", EscapeMarkdownV2("plain text"))
}

func TestRenderFirstRunSummaryShapeDiffersFromNewItems(t *testing.T) {
	r := testRenderer()
	items := diff.Result{
		FirstRun: true,
		Assignments: []watch.Assignment{
			{Course: "CS101", Name: "HW1"},
		},
	}

	first := r.Email(Event{Type: EventFirstRun, Items: items})
	regular := r.Email(Event{Type: EventNewItems, Items: items})

	require.Contains(t, first.Subject, "Monitoring active")
	require.Contains(t, first.Text, "Total items monitored: 1")
	require.NotEqual(t, first.Subject, regular.Subject)
	require.NotContains(t, first.Text, "HW1", "first-run summary aggregates counts instead of listing items")
	require.Contains(t, regular.Text, "HW1")
}

func TestRenderErrorUsesFriendlyMessage(t *testing.T) {
	r := testRenderer()
	msg := FriendlyMessage(errclass.CredentialError, "raw selenium trace")
	p := r.Email(Event{Type: EventError, Category: errclass.CredentialError, Message: msg})

	require.Contains(t, p.Subject, "credential_error")
	require.Contains(t, p.Text, "username or password")
	require.NotContains(t, p.Text, "selenium")
}

func TestFriendlyMessageFallsBackToRaw(t *testing.T) {
	got := FriendlyMessage(errclass.GenericFailure, "exit status 7")
	require.Contains(t, got, "exit status 7")
}

func TestRenderReminder(t *testing.T) {
	r := testRenderer()
	due := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	p := r.Telegram(Event{
		Type: EventReminder,
		Task: ReminderTask{TaskType: "Assignment", Course: "CS101", Name: "HW2", Due: due},
	})

	require.Contains(t, p.Subject, "HW2")
	require.Contains(t, p.Text, "CS101")
	require.Contains(t, p.Text, "In 6 hours")
}
