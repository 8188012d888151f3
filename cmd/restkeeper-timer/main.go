package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/claude/restkeeper/internal/coach"
	"github.com/claude/restkeeper/internal/countdown"
	"github.com/claude/restkeeper/internal/loop"
	"github.com/claude/restkeeper/internal/models"
	"github.com/claude/restkeeper/internal/spool"
	"github.com/claude/restkeeper/internal/upload"
	"github.com/google/uuid"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const (
	defaultRestSec = 90
	adjustStep     = 15
	flushBatch     = 200
	uploadTimeout  = 15 * time.Second
)

// rest tracks the current rest period. Only touched on the loop goroutine.
type rest struct {
	ticks    int
	adjusted int
	skipped  bool
	started  time.Time
}

func main() {
	duration := flag.Int("d", 0, "rest duration in seconds (default: recommended for -exercise, else 90)")
	exercise := flag.String("exercise", "", "exercise name, used for the recommended rest and a setup tip")
	interval := flag.Duration("interval", countdown.DefaultTickInterval, "tick interval")
	serverURL := flag.String("server", os.Getenv("RESTKEEPER_URL"), "RestKeeper server URL for syncing rest periods (empty: keep them locally)")
	apiKey := flag.String("api-key", os.Getenv("RESTKEEPER_API_KEY"), "API key for the RestKeeper server")
	stateDir := flag.String("state-dir", defaultStateDir(), "directory for rest periods waiting to sync")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("restkeeper-timer", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *duration < 0 {
		fmt.Fprintf(os.Stderr, "Error: -d must be positive\n")
		os.Exit(1)
	}

	total := *duration
	if *exercise != "" {
		c := coach.Classify(*exercise)
		if total == 0 {
			total = coach.RecommendedRest(c)
		}
		fmt.Printf("%s (%s): %s\n", *exercise, c, coach.SetupTip(*exercise))
	}
	if total == 0 {
		total = defaultRestSec
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sp, err := spool.Open(*stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer sp.Close()

	var sink spool.Sink
	if *serverURL != "" {
		sink = upload.NewClient(*serverURL, *apiKey, "restkeeper-timer/"+Version)
	}
	recorder := spool.NewRecorder(sink, sp, log)
	syncPending(recorder, log)

	// The loop outlives ctx so an interrupted timer can still be disposed.
	events := loop.New(log)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go events.Run(loopCtx)

	done := make(chan struct{})
	var once sync.Once
	var timer *countdown.Timer
	cur := &rest{}
	doErr := events.Do(ctx, func() {
		timer, err = countdown.New(total, events.Scheduler(),
			countdown.WithTickInterval(*interval),
			countdown.OnTick(func(remaining int) {
				cur.ticks++
				printClock(remaining)
			}),
			countdown.OnCompleted(func() { once.Do(func() { close(done) }) }),
		)
		if err != nil {
			return
		}
		printClock(timer.Remaining())
		cur.started = time.Now()
		timer.Start()
	})
	if doErr != nil || err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", firstErr(doErr, err))
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "[enter] p pause/resume, + / - adjust 15s, s skip, r restart")
	go readCommands(events, timer, cur)

	var row models.RestPeriodRow
	select {
	case <-done:
		events.Do(context.Background(), func() {
			outcome := models.OutcomeCompleted
			if cur.skipped {
				outcome = models.OutcomeSkipped
			}
			row = restRow(timer, cur, *exercise, *interval, outcome)
		})
		fmt.Printf("\rrest over after %s\n", countdown.FormatHuman(int(time.Since(cur.started).Round(time.Second).Seconds())))
	case <-ctx.Done():
		var remaining int
		events.Do(context.Background(), func() {
			remaining = timer.Remaining()
			row = restRow(timer, cur, *exercise, *interval, models.OutcomeCancelled)
			timer.Dispose()
		})
		fmt.Printf("\rcancelled with %s left\n", countdown.FormatClock(remaining))
	}

	rctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	if err := recorder.RecordRestPeriod(rctx, row); err != nil {
		log.Error("recording rest period", "error", err)
	}
}

// restRow builds the history row for the rest that just ended.
func restRow(timer *countdown.Timer, cur *rest, exercise string, interval time.Duration, outcome models.Outcome) models.RestPeriodRow {
	return models.RestPeriodRow{
		ID:          uuid.New(),
		Kind:        models.KindRest,
		Exercise:    exercise,
		PlannedSec:  timer.Total(),
		ActualSec:   int(time.Duration(cur.ticks) * interval / time.Second),
		AdjustedSec: cur.adjusted,
		Outcome:     outcome,
		StartedAt:   cur.started,
		EndedAt:     time.Now(),
	}
}

// syncPending uploads rest periods left over from earlier offline runs.
func syncPending(recorder *spool.Recorder, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	n, err := recorder.Flush(ctx, flushBatch)
	if err != nil {
		log.Warn("syncing pending rest periods", "error", err)
	}
	if n > 0 {
		fmt.Fprintf(os.Stderr, "synced %d rest periods recorded offline\n", n)
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".restkeeper-timer"
	}
	return filepath.Join(home, ".restkeeper-timer")
}

// readCommands applies one-letter commands from stdin on the loop.
func readCommands(events *loop.Loop, timer *countdown.Timer, cur *rest) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		events.Post(func() {
			switch cmd {
			case "p":
				if timer.Status() == countdown.Paused {
					timer.Resume()
				} else {
					timer.Pause()
				}
			case "+", "-":
				delta := adjustStep
				if cmd == "-" {
					delta = -adjustStep
				}
				before := timer.Remaining()
				timer.Adjust(delta)
				cur.adjusted += timer.Remaining() - before
			case "s":
				cur.skipped = true
				timer.Skip()
				return
			case "r":
				*cur = rest{started: time.Now()}
				timer.Reset()
				timer.Start()
			default:
				return
			}
			printClock(timer.Remaining())
		})
	}
}

func printClock(remaining int) {
	fmt.Printf("\r%s  ", countdown.FormatClock(remaining))
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
