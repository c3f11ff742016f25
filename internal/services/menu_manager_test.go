package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/ad/go-daily-tasks-bot/internal/fsm"
	"github.com/ad/go-daily-tasks-bot/internal/models"
	"pgregory.net/rapid"
)

func newTestMenu(t testing.TB, api *fakeAPI) (*MenuManager, *db.UserRepository, func()) {
	queue, cleanup := setupServicesDB(t)
	users := db.NewUserRepository(queue, "UTC")
	limiter := NewRateLimiter(1000, time.Minute)
	gateway := NewDeliveryGateway(api, limiter, users, nil, DeliveryConfig{Attempts: 1, BaseDelay: time.Millisecond, Timeout: 5 * time.Second}, testLogger())
	menu := NewMenuManager(users, gateway, testLogger())
	menu.pick = func(int) int { return 0 }
	return menu, users, cleanup
}

func TestMenuRenderTogglesSubscription(t *testing.T) {
	menu := NewMenuManager(nil, nil, testLogger())
	menu.pick = func(int) int { return 1 }

	view := menu.Render(models.UserProgress{Subscribed: false}, "Задание <1>")
	if !strings.HasPrefix(view.Text, "<b>Задание &lt;1&gt;</b>") {
		t.Fatalf("body not escaped and bold: %q", view.Text)
	}
	if !strings.Contains(view.Text, "<i>"+MotivationalQuotes[1]+"</i>") {
		t.Fatalf("quote missing: %q", view.Text)
	}
	if view.Buttons[1][0].Label != "🔔 Подписаться" || view.Buttons[1][0].Action != fsm.ActionSubscribe {
		t.Fatalf("unexpected subscribe button %+v", view.Buttons[1][0])
	}

	view = menu.Render(models.UserProgress{Subscribed: true}, "x")
	if view.Buttons[1][0].Label != "🔕 Отписаться" {
		t.Fatalf("unexpected unsubscribe button %+v", view.Buttons[1][0])
	}
}

func TestMenuEditsInPlace(t *testing.T) {
	api := newFakeAPI()
	menu, users, cleanup := newTestMenu(t, api)
	defer cleanup()
	ctx := context.Background()

	if _, err := users.Upsert(ctx, 10, models.UserPatch{}); err != nil {
		t.Fatal(err)
	}
	if err := menu.Show(ctx, 10, "one"); err != nil {
		t.Fatal(err)
	}
	u, _ := users.Get(ctx, 10)
	first := u.LiveMenuMessageID
	if first == 0 {
		t.Fatal("expected live menu after first show")
	}

	if err := menu.Show(ctx, 10, "two"); err != nil {
		t.Fatal(err)
	}
	sends, edits := api.calls()
	if sends != 1 || edits != 1 {
		t.Fatalf("expected 1 send and 1 edit, got %d/%d", sends, edits)
	}
	u, _ = users.Get(ctx, 10)
	if u.LiveMenuMessageID != first {
		t.Fatalf("edit changed the live menu: %d -> %d", first, u.LiveMenuMessageID)
	}
}

func TestMenuReplacesStaleMessage(t *testing.T) {
	api := newFakeAPI()
	menu, users, cleanup := newTestMenu(t, api)
	defer cleanup()
	ctx := context.Background()

	if _, err := users.Upsert(ctx, 10, models.UserPatch{}); err != nil {
		t.Fatal(err)
	}
	if err := users.SetLiveMenu(ctx, 10, 5); err != nil {
		t.Fatal(err)
	}
	api.editErrs = []error{badRequest("Bad Request: message to edit not found")}

	if err := menu.Show(ctx, 10, "body"); err != nil {
		t.Fatal(err)
	}
	u, _ := users.Get(ctx, 10)
	if u.LiveMenuMessageID == 5 || u.LiveMenuMessageID == 0 {
		t.Fatalf("expected a new live menu, got %d", u.LiveMenuMessageID)
	}
}

func TestMenuTransientEditFallsBackToSend(t *testing.T) {
	api := newFakeAPI()
	queue, cleanup := setupServicesDB(t)
	defer cleanup()
	users := db.NewUserRepository(queue, "UTC")
	notifier := newFakeNotifier()
	gateway := NewDeliveryGateway(api, NewRateLimiter(1000, time.Minute), users, notifier,
		DeliveryConfig{Attempts: 5, BaseDelay: time.Second, Timeout: 5 * time.Second}, testLogger())
	menu := NewMenuManager(users, gateway, testLogger())
	ctx := context.Background()

	if _, err := users.Upsert(ctx, 10, models.UserPatch{}); err != nil {
		t.Fatal(err)
	}
	if err := users.SetLiveMenu(ctx, 10, 5); err != nil {
		t.Fatal(err)
	}
	api.editErrs = []error{errors.New("connection reset by peer")}

	start := time.Now()
	if err := menu.Show(ctx, 10, "body"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("fallback waited for edit retries: %v", elapsed)
	}
	if sends, edits := api.calls(); sends != 1 || edits != 1 {
		t.Fatalf("expected one edit then one send, got %d/%d", edits, sends)
	}
	u, _ := users.Get(ctx, 10)
	if u.LiveMenuMessageID == 5 || u.LiveMenuMessageID == 0 {
		t.Fatalf("expected the replacement to become the live menu, got %d", u.LiveMenuMessageID)
	}
	select {
	case f := <-notifier.ch:
		t.Fatalf("recovered edit escalated: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMenuBlockedUser(t *testing.T) {
	api := newFakeAPI()
	menu, users, cleanup := newTestMenu(t, api)
	defer cleanup()
	ctx := context.Background()

	subscribed := true
	if _, err := users.Upsert(ctx, 10, models.UserPatch{Subscribed: &subscribed}); err != nil {
		t.Fatal(err)
	}
	api.failChat[10] = forbidden()

	err := menu.Show(ctx, 10, "body")
	if !errors.Is(err, ErrRecipientUnreachable) {
		t.Fatalf("expected ErrRecipientUnreachable, got %v", err)
	}
	u, _ := users.Get(ctx, 10)
	if u.Subscribed || u.LiveMenuMessageID != 0 {
		t.Fatalf("unexpected state after blocked delivery: %+v", u)
	}
}

func TestProperty5_SingleLiveMenu(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		api := newFakeAPI()
		menu, users, cleanup := newTestMenu(t, api)
		defer cleanup()
		ctx := context.Background()

		if _, err := users.Upsert(ctx, 1, models.UserPatch{}); err != nil {
			rt.Fatal(err)
		}

		ref := 0
		steps := rapid.IntRange(1, 15).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			editOutcome := rapid.SampledFrom([]string{"ok", "rejected", "transient"}).Draw(rt, "edit")
			sendOK := rapid.Bool().Draw(rt, "sendOK")

			needSend := ref == 0
			if ref != 0 {
				switch editOutcome {
				case "rejected":
					api.editErrs = []error{badRequest("Bad Request: message can't be edited")}
					ref = 0
					needSend = true
				case "transient":
					api.editErrs = []error{errors.New("timeout")}
					needSend = true
				}
			}
			if needSend && !sendOK {
				api.sendErrs = []error{errors.New("timeout")}
			}

			err := menu.Show(ctx, 1, "body")

			if needSend && sendOK {
				ref = api.nextID
			}
			if (err == nil) != (!needSend || sendOK) {
				rt.Fatalf("step %d: unexpected result %v", i, err)
			}

			u, gerr := users.Get(ctx, 1)
			if gerr != nil {
				rt.Fatal(gerr)
			}
			if u.LiveMenuMessageID != ref {
				rt.Fatalf("step %d: tracked %d, expected %d", i, u.LiveMenuMessageID, ref)
			}
			api.editErrs, api.sendErrs = nil, nil
		}
	})
}
