package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/config"
	"github.com/buildtall-systems/ticketbot/internal/db"
	"github.com/buildtall-systems/ticketbot/internal/fsm"
	"github.com/buildtall-systems/ticketbot/internal/notify"
)

const testOperatorNpub = "npub1mna04t4lvslqepghuj0p8tf9cc8wfft6pd04l3qp4k7tn5237h6sj6ru9w"
const testSecretHex = "234702910939c3394838131938e8da0dcfec369df3e51990263eae626aa73f87"

var testTarget = db.Target{ProjectID: 85939, ScreenID: 154068, SkuID: 460112}

func TestSummarize(t *testing.T) {
	abort := &fsm.AbortError{State: fsm.StateSubmittingOrder, Raw: 100049, Reason: "per-person purchase limit already reached"}

	tests := []struct {
		name       string
		err        error
		wantResult string
		wantNotify bool
		wantDetail string
	}{
		{"done", nil, db.ResultDone, true, "order 1234567"},
		{"aborted", abort, db.ResultAborted, true, "per-person purchase limit already reached"},
		{"wrapped abort", fmt.Errorf("running: %w", abort), db.ResultAborted, true, "per-person purchase limit already reached"},
		{"cancelled", context.Canceled, db.ResultCancelled, false, "context canceled"},
		{"deadline", context.DeadlineExceeded, db.ResultCancelled, false, "context deadline exceeded"},
		{"other", errors.New("disk full"), db.ResultFailed, true, "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarize(tt.err, "1234567")
			if got.Result != tt.wantResult {
				t.Errorf("Result = %s, want %s", got.Result, tt.wantResult)
			}
			if got.Notify != tt.wantNotify {
				t.Errorf("Notify = %v, want %v", got.Notify, tt.wantNotify)
			}
			if got.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", got.Detail, tt.wantDetail)
			}
		})
	}
}

func TestRunResult_Message(t *testing.T) {
	done := runResult{Result: db.ResultDone, Detail: "order 42"}.Message(testTarget)
	if !strings.Contains(done, "order 42 placed") || !strings.Contains(done, "project 85939") {
		t.Errorf("done message = %q", done)
	}

	aborted := runResult{Result: db.ResultAborted, Detail: "sale period is closed"}.Message(testTarget)
	if !strings.Contains(aborted, "aborted: sale period is closed") {
		t.Errorf("aborted message = %q", aborted)
	}
}

func TestNewNotifier(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{}
	if _, ok := newNotifier(ctx, cfg, zap.NewNop()).(notify.Nop); !ok {
		t.Error("notifier should be a no-op when no recipient is configured")
	}

	cfg.Nostr = config.NostrConfig{NotifyNpub: testOperatorNpub, SecretHex: testSecretHex, Relays: []string{"wss://relay.example"}}
	if _, ok := newNotifier(ctx, cfg, zap.NewNop()).(*notify.Notifier); !ok {
		t.Error("notifier should publish when recipient and secret are configured")
	}

	cfg.Nostr.SecretHex = "zz"
	if _, ok := newNotifier(ctx, cfg, zap.NewNop()).(notify.Nop); !ok {
		t.Error("notifier should fall back to no-op on a bad secret")
	}
}

func TestCommandPresence(t *testing.T) {
	for _, name := range []string{"run", "runs", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := rootCmd.Find([]string{name})
			if err != nil {
				t.Fatalf("Find(%s) error = %v", name, err)
			}
			if sub.Name() != name {
				t.Errorf("found %s, want %s", sub.Name(), name)
			}
		})
	}
}

func TestFlagsBoundToConfig(t *testing.T) {
	for name, key := range flagKeys {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("flag --%s missing for %s", name, key)
		}
	}
}

func TestRunsCommand(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	journal, err := db.OpenJournal(ctx, path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	started := time.Now().Add(-time.Minute)
	run, err := journal.StartRun(ctx, testTarget, started)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	db.NewRecorder(journal, run.ID, nil).Observe(ctx, fsm.Step{
		Seq: 1, Trigger: fsm.TriggerNext, From: fsm.StateStart, To: fsm.StateAwaitingSaleWindow,
		Outcome: fsm.NoOutcome{}, At: started,
	})
	if err := journal.FinishRun(ctx, run.ID, db.ResultDone, "order 42", started.Add(30*time.Second)); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	_ = journal.Close()

	viper.Set("database.path", path)

	var out bytes.Buffer
	runsCmd.SetOut(&out)
	runsCmd.SetContext(ctx)
	t.Cleanup(func() { runsCmd.SetOut(nil) })

	if err := listRuns(runsCmd, nil); err != nil {
		t.Fatalf("listRuns() error = %v", err)
	}
	if !strings.Contains(out.String(), "order 42") || !strings.Contains(out.String(), "30s") {
		t.Errorf("runs output = %q", out.String())
	}

	out.Reset()
	if err := listRuns(runsCmd, []string{fmt.Sprint(run.ID)}); err != nil {
		t.Fatalf("listRuns(id) error = %v", err)
	}
	if !strings.Contains(out.String(), "awaiting_sale_window") {
		t.Errorf("steps output = %q", out.String())
	}

	if err := listRuns(runsCmd, []string{"abc"}); err == nil {
		t.Error("listRuns should reject a non-numeric id")
	}
}

func TestWriteRuns_Empty(t *testing.T) {
	var out bytes.Buffer
	if err := writeRuns(&out, nil); err != nil {
		t.Fatalf("writeRuns() error = %v", err)
	}
	if !strings.Contains(out.String(), "no runs recorded") {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "ticketbot dev") {
		t.Errorf("version output = %q", out.String())
	}
}
