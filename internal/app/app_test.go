package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/config"
	"remindd/internal/delivery"
	"remindd/internal/reminder"
	"remindd/internal/trigger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppDeliversFiredReminder(t *testing.T) {
	got := make(chan trigger.Payload, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p trigger.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		select {
		case got <- p:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`{
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": %q},
  "reminder": {"timezone": "UTC"},
  "trigger": {"driver": "local"},
  "delivery": {"sink": "webhook", "endpoint": %q, "retry_base": "50ms"},
  "http": {"enabled": false}
}`, filepath.Join(dir, "remindd.db"), hook.URL))

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		_ = a.Stop(stopCtx, StopSignal)
	}()

	// The one-hour offset lands about a second from now.
	res, err := a.Reminders().Create(ctx, reminder.CreateRequest{
		OwnerID:          "u1",
		RecipientName:    "Ada",
		RecipientContact: "+15550001",
		TaskDescription:  "standup",
		TargetAt:         time.Now().Add(time.Hour + time.Second),
		Offsets:          []reminder.OffsetKind{reminder.OneHour},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.RegisteredCount != 1 {
		t.Fatalf("registered = %d", res.RegisteredCount)
	}

	select {
	case p := <-got:
		if p.Contact != "+15550001" || p.Message == "" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfgPath := writeConfig(t, `{"storage": {"driver": "sqlite"}}`)
	if _, err := New(cfgPath); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

func TestMapStorageConfigDefaults(t *testing.T) {
	t.Parallel()
	sc, err := mapStorageConfig(&config.Config{})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("got %+v, %v", sc, err)
	}
	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " ./x.db ", BusyTimeout: "3s"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./x.db" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("got %+v", sc)
	}
}

func TestMapContentConfig(t *testing.T) {
	t.Parallel()
	p, cc, err := mapContentConfig(&config.Config{Reminder: config.ReminderConfig{Timezone: "Europe/Berlin"}})
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("expected template-only provider, got %T", p)
	}
	if cc.Location == nil || cc.Location.String() != "Europe/Berlin" {
		t.Fatalf("location = %v", cc.Location)
	}
	p, _, err = mapContentConfig(&config.Config{Content: config.ContentConfig{Provider: "openai", Model: "m"}})
	if err != nil || p == nil || p.Name() != "openai" {
		t.Fatalf("provider = %v, %v", p, err)
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()
	dc, err := mapDeliveryConfig(&config.Config{Delivery: &config.DeliveryConfig{Workers: 4, RetryBase: "250ms", Timeout: "5s"}})
	if err != nil {
		t.Fatal(err)
	}
	if dc.Workers != 4 || dc.RetryBase != 250*time.Millisecond || dc.Timeout != 5*time.Second {
		t.Fatalf("got %+v", dc)
	}
	if dc.RetryMax != delivery.DefaultRetryMax {
		t.Fatalf("omitted retry_max = %d, want default", dc.RetryMax)
	}
	zero := 0
	dc, err = mapDeliveryConfig(&config.Config{Delivery: &config.DeliveryConfig{RetryMax: &zero}})
	if err != nil || dc.RetryMax != 0 {
		t.Fatalf("retry_max 0: got %d, %v", dc.RetryMax, err)
	}
	if _, err := mapDeliveryConfig(&config.Config{Delivery: &config.DeliveryConfig{RetryMaxDelay: "later"}}); err == nil {
		t.Fatal("expected duration error")
	}
}
